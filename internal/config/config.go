package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

const (
	defaultPingTimeout   = 2.0
	defaultCheckInterval = 10
	defaultFpingPath     = "fping"

	defaultLogMaxMB    = 10
	defaultLogMaxFiles = 5

	defaultDNSTimeoutMS = 1000

	defaultTraceCooldownSecs = 300
	defaultTraceMaxHops      = 30
	defaultTraceTimeoutMS    = 1000
)

type Config struct {
	InitConfig InitConfig       `toml:"init_config" yaml:"init_config"`
	Instances  []InstanceConfig `toml:"instances" yaml:"instances"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
	DNS        DNSConfig        `toml:"dns" yaml:"dns"`
	Traceroute TracerouteConfig `toml:"traceroute" yaml:"traceroute"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
}

// InitConfig holds the settings shared by every instance.
type InitConfig struct {
	PingTimeout   float64           `toml:"ping_timeout" yaml:"ping_timeout"`
	CheckInterval int               `toml:"check_interval" yaml:"check_interval"`
	Tags          map[string]string `toml:"tags" yaml:"tags"`
	FpingPath     string            `toml:"fping_path" yaml:"fping_path"`
}

// InstanceConfig is one probed address.
type InstanceConfig struct {
	Addr string            `toml:"addr" yaml:"addr"`
	Tags map[string]string `toml:"tags" yaml:"tags"`
}

type LoggingConfig struct {
	Dir      string `toml:"dir" yaml:"dir"`
	MaxMB    int    `toml:"max_mb" yaml:"max_mb"`
	MaxFiles int    `toml:"max_files" yaml:"max_files"`
}

// DNSConfig enables resolver diagnostics when Resolvers is non-empty.
type DNSConfig struct {
	Resolvers []string `toml:"resolvers" yaml:"resolvers"`
	TimeoutMS int      `toml:"timeout_ms" yaml:"timeout_ms"`
}

type TracerouteConfig struct {
	Enabled      bool `toml:"enabled" yaml:"enabled"`
	CooldownSecs int  `toml:"cooldown_secs" yaml:"cooldown_secs"`
	MaxHops      int  `toml:"max_hops" yaml:"max_hops"`
	TimeoutMS    int  `toml:"timeout_ms" yaml:"timeout_ms"`
}

// ServerConfig enables the status listener when Listen is non-empty.
type ServerConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config file not found: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InitConfig.PingTimeout == 0 {
		c.InitConfig.PingTimeout = defaultPingTimeout
	}
	if c.InitConfig.CheckInterval == 0 {
		c.InitConfig.CheckInterval = defaultCheckInterval
	}
	if c.InitConfig.FpingPath == "" {
		c.InitConfig.FpingPath = defaultFpingPath
	}
	if c.Logging.MaxMB == 0 {
		c.Logging.MaxMB = defaultLogMaxMB
	}
	if c.Logging.MaxFiles == 0 {
		c.Logging.MaxFiles = defaultLogMaxFiles
	}
	if c.DNS.TimeoutMS == 0 {
		c.DNS.TimeoutMS = defaultDNSTimeoutMS
	}
	if c.Traceroute.CooldownSecs == 0 {
		c.Traceroute.CooldownSecs = defaultTraceCooldownSecs
	}
	if c.Traceroute.MaxHops == 0 {
		c.Traceroute.MaxHops = defaultTraceMaxHops
	}
	if c.Traceroute.TimeoutMS == 0 {
		c.Traceroute.TimeoutMS = defaultTraceTimeoutMS
	}
}

func (c *Config) validate() error {
	var errs []string

	if c.InitConfig.PingTimeout < 0.001 {
		errs = append(errs, "init_config.ping_timeout must be >= 0.001")
	}
	if c.InitConfig.CheckInterval <= 0 {
		errs = append(errs, "init_config.check_interval must be > 0")
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		errs = append(errs, "logging.dir is required")
	}
	if c.Logging.MaxMB <= 0 {
		errs = append(errs, "logging.max_mb must be > 0")
	}
	if c.Logging.MaxFiles <= 0 {
		errs = append(errs, "logging.max_files must be > 0")
	}
	if c.DNS.TimeoutMS <= 0 {
		errs = append(errs, "dns.timeout_ms must be > 0")
	}
	for i, r := range c.DNS.Resolvers {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, fmt.Sprintf("dns.resolvers[%d] is empty", i))
		}
	}
	if c.Traceroute.CooldownSecs <= 0 {
		errs = append(errs, "traceroute.cooldown_secs must be > 0")
	}
	if c.Traceroute.MaxHops <= 0 {
		errs = append(errs, "traceroute.max_hops must be > 0")
	}
	if c.Traceroute.TimeoutMS <= 0 {
		errs = append(errs, "traceroute.timeout_ms must be > 0")
	}
	if len(c.Instances) == 0 {
		errs = append(errs, "instances must not be empty")
	}
	for i, inst := range c.Instances {
		addr := strings.TrimSpace(inst.Addr)
		if addr == "" {
			errs = append(errs, fmt.Sprintf("instances[%d].addr is required", i))
			continue
		}
		if err := ValidateAddr(addr); err != nil {
			errs = append(errs, fmt.Sprintf("instances[%d].addr: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// ValidateAddr accepts IP literals and hostnames that survive IDNA
// conversion.
func ValidateAddr(addr string) error {
	if net.ParseIP(addr) != nil {
		return nil
	}
	if _, err := idna.Lookup.ToASCII(addr); err != nil {
		return fmt.Errorf("invalid host %q: %w", addr, err)
	}

	return nil
}
