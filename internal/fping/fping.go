package fping

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultPath is the executable looked up on PATH when Runner.Path is empty.
const DefaultPath = "fping"

// Request is a single probe batch.
type Request struct {
	Addresses []string
	Timeout   time.Duration
}

// NewRequest validates and copies the batch parameters.
func NewRequest(addrs []string, timeout time.Duration) (Request, error) {
	if len(addrs) == 0 {
		return Request{}, errors.New("no addresses to probe")
	}
	for i, a := range addrs {
		if strings.TrimSpace(a) == "" {
			return Request{}, fmt.Errorf("address %d is empty", i)
		}
	}
	if timeout < time.Millisecond {
		return Request{}, fmt.Errorf("timeout must be at least 1ms, got %s", timeout)
	}

	return Request{
		Addresses: append([]string(nil), addrs...),
		Timeout:   timeout,
	}, nil
}

// TimeoutFromSeconds converts a timeout in seconds to a duration rounded to
// the nearest millisecond.
func TimeoutFromSeconds(secs float64) time.Duration {
	return time.Duration(math.Round(secs*1000)) * time.Millisecond
}

// Args returns the fping arguments for the request: one echo per host, quiet
// summary output, backoff 1, a single retry, 10ms between probes.
func (r Request) Args() []string {
	ms := int64(math.Round(float64(r.Timeout) / float64(time.Millisecond)))
	args := []string{"-C1", "-q", "-B1", "-r1", "-i10", "-t", strconv.FormatInt(ms, 10)}
	return append(args, r.Addresses...)
}

// Runner executes fping as a child process.
type Runner struct {
	Path string
}

// Run probes every address in req once and blocks until fping exits. fping
// enforces the timeout itself; there is no other cancellation.
func (r Runner) Run(req Request) (Outcome, error) {
	path := r.Path
	if path == "" {
		path = DefaultPath
	}

	var stderr bytes.Buffer
	cmd := exec.Command(path, req.Args()...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &ToolNotFoundError{Path: path, Err: err}
	}

	// fping exits non-zero when any host is unreachable or unresolvable but
	// still prints its summary, so only non-exit failures matter here.
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("wait for %s: %w", path, err)
		}
	}

	result := Parse(splitLines(stderr.String()))
	if len(result) == 0 {
		return nil, &NoResultsError{Addresses: append([]string(nil), req.Addresses...)}
	}

	return result, nil
}

func splitLines(out string) []string {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines
}
