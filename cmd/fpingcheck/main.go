package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iaserrat/fpingcheck/internal/agent"
	"github.com/iaserrat/fpingcheck/internal/check"
	"github.com/iaserrat/fpingcheck/internal/config"
	"github.com/iaserrat/fpingcheck/internal/fping"
	"github.com/iaserrat/fpingcheck/internal/logging"
	"github.com/iaserrat/fpingcheck/internal/metrics"
	"github.com/iaserrat/fpingcheck/internal/resolve"
	"github.com/iaserrat/fpingcheck/internal/server"
	"github.com/iaserrat/fpingcheck/internal/traceroute"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/fpingcheck/config.toml", "Path to config file (.toml or .yaml)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	once := flag.Bool("once", false, "Run every instance once, print the results and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, once bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewSink(logger, reg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkOpts := []check.Option{check.WithLogger(logger)}
	agentOpts := []agent.Option{
		agent.WithFlusher(sink),
		agent.WithErrorHandler(func(err error) {
			fmt.Fprintln(os.Stderr, err)
		}),
	}

	if len(cfg.DNS.Resolvers) > 0 {
		resolver, err := resolve.New(resolve.Config{
			Resolvers: cfg.DNS.Resolvers,
			Timeout:   time.Duration(cfg.DNS.TimeoutMS) * time.Millisecond,
		})
		if err != nil {
			return err
		}
		checkOpts = append(checkOpts, check.WithResolver(resolver))
	}

	if cfg.Traceroute.Enabled && !once {
		worker := traceroute.NewWorker(traceroute.Config{
			MaxHops: cfg.Traceroute.MaxHops,
			Timeout: time.Duration(cfg.Traceroute.TimeoutMS) * time.Millisecond,
		}, time.Duration(cfg.Traceroute.CooldownSecs)*time.Second, logger)
		checkOpts = append(checkOpts, check.WithTracer(worker))
		agentOpts = append(agentOpts, agent.WithBackground(worker.Run))
	}

	if cfg.Server.Listen != "" && !once {
		status := server.NewStatus()
		router := server.NewRouter(status, reg)
		agentOpts = append(agentOpts,
			agent.WithObserver(status),
			agent.WithBackground(func(ctx context.Context) error {
				return server.Serve(ctx, cfg.Server.Listen, router)
			}))
	}

	runner := fping.Runner{Path: cfg.InitConfig.FpingPath}
	chk := check.New(cfg.InitConfig, runner, sink, checkOpts...)
	interval := time.Duration(cfg.InitConfig.CheckInterval) * time.Second
	a := agent.New(chk, cfg.Instances, interval, agentOpts...)

	if once {
		return printOutcomes(a.RunOnce(ctx))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return a.Run(ctx)
}

func newLogger(cfg config.Config) (*logging.Logger, error) {
	hostID, err := os.Hostname()
	if err != nil || hostID == "" {
		hostID = "unknown"
	}
	return logging.New(logging.Config{
		Dir:         cfg.Logging.Dir,
		MaxMB:       cfg.Logging.MaxMB,
		MaxFiles:    cfg.Logging.MaxFiles,
		ToolName:    "fpingcheck",
		ToolVersion: version,
		HostID:      hostID,
	})
}

type onceResult struct {
	Addr      string  `json:"addr"`
	RunID     string  `json:"run_id"`
	ElapsedMs float64 `json:"elapsed_ms"`
	Total     int     `json:"total_cnt"`
	Loss      int     `json:"loss_cnt"`
	Err       string  `json:"err,omitempty"`
}

func printOutcomes(outcomes []agent.Outcome) error {
	results := make([]onceResult, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		r := onceResult{
			Addr:      o.Result.Addr,
			RunID:     o.Result.RunID,
			ElapsedMs: float64(o.Result.Elapsed) / float64(time.Millisecond),
			Total:     o.Result.Total,
			Loss:      o.Result.Loss,
		}
		if o.Err != nil {
			r.Err = o.Err.Error()
			failed++
		}
		results = append(results, r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(outcomes))
	}

	return nil
}
