package traceroute

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iaserrat/fpingcheck/internal/logging"
)

const sampleOutput = `traceroute to 8.8.8.8 (8.8.8.8), 30 hops max, 60 byte packets
 1  192.168.1.1  1.123 ms  0.998 ms  1.010 ms
 2  * * *
 3  * 10.10.0.1  8.500 ms *
 4  8.8.8.8  12.4 ms  12.1 ms  12.0 ms
`

func TestParseOutput(t *testing.T) {
	hops := parseOutput(sampleOutput)
	if len(hops) != 4 {
		t.Fatalf("expected 4 hops, got %d", len(hops))
	}

	want := []Hop{
		{TTL: 1, IP: "192.168.1.1", RttMs: 1.123},
		{TTL: 2},
		{TTL: 3, IP: "10.10.0.1", RttMs: 8.5},
		{TTL: 4, IP: "8.8.8.8", RttMs: 12.4},
	}
	for i, w := range want {
		if hops[i] != w {
			t.Fatalf("hop %d: expected %#v, got %#v", i, w, hops[i])
		}
	}
}

func TestHashPathStable(t *testing.T) {
	a := hashPath([]Hop{{TTL: 1, IP: "10.0.0.1"}, {TTL: 2, IP: "10.0.0.2"}})
	b := hashPath([]Hop{{TTL: 1, IP: "10.0.0.1", RttMs: 5}, {TTL: 2, IP: "10.0.0.2", RttMs: 9}})
	c := hashPath([]Hop{{TTL: 1, IP: "10.0.0.1"}, {TTL: 2, IP: "10.0.0.3"}})

	if a != b {
		t.Fatalf("hash should ignore rtt")
	}
	if a == c {
		t.Fatalf("hash should change with path")
	}
}

func TestRunUsesConfiguredBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traceroute")
	script := "#!/bin/sh\ncat <<'OUT'\n" + sampleOutput + "OUT\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	res := Run(context.Background(), "8.8.8.8", Config{Path: path, MaxHops: 30, Timeout: time.Second})
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if len(res.Hops) != 4 || res.PathHash == "" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

type recorder struct {
	mu      sync.Mutex
	records []logging.Emittable
}

func (r *recorder) Emit(e logging.Emittable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, e)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func TestWorkerCooldownPerTarget(t *testing.T) {
	rec := &recorder{}
	w := NewWorker(Config{MaxHops: 5, Timeout: time.Second}, time.Hour, rec)

	w.run = func(ctx context.Context, target string, cfg Config) Result {
		hops := []Hop{{TTL: 1, IP: "10.0.0.1", RttMs: 1}}
		return Result{Hops: hops, PathHash: hashPath(hops)}
	}

	if !w.Trigger("8.8.8.8", "run-1") {
		t.Fatalf("first trigger should be accepted")
	}
	if w.Trigger("8.8.8.8", "run-2") {
		t.Fatalf("second trigger should be rate limited")
	}
	if !w.Trigger("1.1.1.1", "run-3") {
		t.Fatalf("other target should not share the limiter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for records, got %d", rec.len())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	first, ok := rec.records[0].(*logging.TracerouteResult)
	if !ok || first.Target != "8.8.8.8" || first.RunID != "run-1" {
		t.Fatalf("unexpected first record: %#v", rec.records[0])
	}
	for _, r := range rec.records {
		if _, ok := r.(*logging.PathChange); ok {
			t.Fatalf("unexpected path change record: %#v", r)
		}
	}
}

func TestWorkerRecordsPathChange(t *testing.T) {
	rec := &recorder{}
	w := NewWorker(Config{MaxHops: 5, Timeout: time.Second}, time.Millisecond, rec)

	a := []Hop{{TTL: 1, IP: "10.0.0.1", RttMs: 1}}
	b := []Hop{{TTL: 1, IP: "10.0.0.2", RttMs: 1}}
	w.record(request{target: "8.8.8.8", runID: "r1"}, Result{Hops: a, PathHash: hashPath(a)})
	w.record(request{target: "8.8.8.8", runID: "r2"}, Result{Hops: b, PathHash: hashPath(b)})

	if len(rec.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(rec.records))
	}
	change, ok := rec.records[2].(*logging.PathChange)
	if !ok {
		t.Fatalf("expected path change, got %#v", rec.records[2])
	}
	if change.PrevPathHash != hashPath(a) || change.NewPathHash != hashPath(b) || change.RunID != "r2" {
		t.Fatalf("unexpected path change: %#v", change)
	}
}
