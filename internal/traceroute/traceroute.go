package traceroute

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Path    string
	MaxHops int
	Timeout time.Duration
}

type Hop struct {
	TTL   int
	IP    string
	RttMs float64
}

type Result struct {
	Hops     []Hop
	PathHash string
	Err      string
}

var hopLine = regexp.MustCompile(`^\s*(\d+)\s+(.+)$`)

// Run traces the path to target. Partial output from a failed run is still
// parsed.
func Run(ctx context.Context, target string, cfg Config) Result {
	path := cfg.Path
	if path == "" {
		path = "traceroute"
	}

	args := []string{"-n", "-m", strconv.Itoa(cfg.MaxHops), "-w", fmt.Sprintf("%.0f", cfg.Timeout.Seconds()), target}
	out, err := exec.CommandContext(ctx, path, args...).CombinedOutput()

	hops := parseOutput(string(out))
	res := Result{Hops: hops}
	if len(hops) > 0 {
		res.PathHash = hashPath(hops)
	}
	if err != nil {
		res.Err = err.Error()
	}

	return res
}

func parseOutput(out string) []Hop {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var hops []Hop

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "traceroute") {
			continue
		}

		matches := hopLine.FindStringSubmatch(line)
		if len(matches) < 3 {
			continue
		}

		ttl, _ := strconv.Atoi(matches[1])
		ip, rtt := parseHop(matches[2])

		hops = append(hops, Hop{TTL: ttl, IP: ip, RttMs: rtt})
	}

	return hops
}

// parseHop takes the first responding address and its first RTT. A hop is
// unanswered only when every probe shows "*".
func parseHop(rest string) (string, float64) {
	fields := strings.Fields(rest)

	var ip string
	for i, f := range fields {
		if f == "*" {
			continue
		}
		if ip == "" {
			ip = f
			continue
		}
		if f == "ms" && i > 0 {
			val, _ := strconv.ParseFloat(fields[i-1], 64)
			return ip, val
		}
	}

	return ip, 0
}

func hashPath(hops []Hop) string {
	var sb strings.Builder
	for _, h := range hops {
		sb.WriteString(fmt.Sprintf("%d:%s|", h.TTL, h.IP))
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}
