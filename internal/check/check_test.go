package check

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iaserrat/fpingcheck/internal/config"
	"github.com/iaserrat/fpingcheck/internal/fping"
	"github.com/iaserrat/fpingcheck/internal/logging"
	"github.com/iaserrat/fpingcheck/internal/metrics"
	"github.com/iaserrat/fpingcheck/internal/resolve"
)

type fakeRunner struct {
	outcome fping.Outcome
	err     error
	reqs    []fping.Request
}

func (f *fakeRunner) Run(req fping.Request) (fping.Outcome, error) {
	f.reqs = append(f.reqs, req)
	return f.outcome, f.err
}

type sample struct {
	name  string
	value float64
	tags  []string
}

type fakeReporter struct {
	counts []sample
	hists  []sample
	events []metrics.Event
}

func (f *fakeReporter) Count(name string, value int, tags []string) {
	f.counts = append(f.counts, sample{name, float64(value), tags})
}

func (f *fakeReporter) Histogram(name string, value float64, tags []string) {
	f.hists = append(f.hists, sample{name, value, tags})
}

func (f *fakeReporter) Event(e metrics.Event) error {
	f.events = append(f.events, e)
	return nil
}

type fakeLog struct {
	records []logging.Emittable
}

func (f *fakeLog) Emit(e logging.Emittable) error {
	f.records = append(f.records, e)
	return nil
}

type fakeTracer struct {
	targets []string
}

func (f *fakeTracer) Trigger(target, runID string) bool {
	f.targets = append(f.targets, target)
	return true
}

type fakeResolver struct {
	hosts []string
}

func (f *fakeResolver) Lookup(ctx context.Context, host string) resolve.Result {
	f.hosts = append(f.hosts, host)
	return resolve.Result{Resolver: "127.0.0.1:53", Err: "NXDOMAIN"}
}

func rtt(v float64) *float64 { return &v }

func fixedClock() func() time.Time {
	ts := time.Unix(1700000000, 0)
	return func() time.Time { return ts }
}

func TestRunReportsLatency(t *testing.T) {
	runner := &fakeRunner{outcome: fping.Outcome{"8.8.8.8": rtt(10.2)}}
	rep := &fakeReporter{}
	log := &fakeLog{}
	tracer := &fakeTracer{}

	c := New(config.InitConfig{PingTimeout: 1.5, Tags: map[string]string{"env": "prod"}}, runner, rep,
		WithLogger(log), WithTracer(tracer))

	res, err := c.Run(context.Background(), config.InstanceConfig{Addr: "8.8.8.8", Tags: map[string]string{"role": "dns"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Total != 1 || res.Loss != 0 || res.RunID == "" {
		t.Fatalf("unexpected result: %#v", res)
	}

	if len(runner.reqs) != 1 || runner.reqs[0].Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected request: %#v", runner.reqs)
	}
	if len(rep.hists) != 1 || rep.hists[0].name != "fping.rtt" || rep.hists[0].value != 10.2 {
		t.Fatalf("unexpected histograms: %#v", rep.hists)
	}
	wantTags := "dst_addr:8.8.8.8,env:prod,role:dns"
	if got := strings.Join(rep.hists[0].tags, ","); got != wantTags {
		t.Fatalf("expected tags %s, got %s", wantTags, got)
	}
	if len(rep.counts) != 2 || rep.counts[0].name != "fping.total_cnt" || rep.counts[0].value != 1 ||
		rep.counts[1].name != "fping.loss_cnt" || rep.counts[1].value != 0 {
		t.Fatalf("unexpected counts: %#v", rep.counts)
	}
	if len(rep.events) != 0 || len(tracer.targets) != 0 {
		t.Fatalf("no event or trace expected without loss")
	}

	if len(log.records) != 1 {
		t.Fatalf("expected one check_run record, got %d", len(log.records))
	}
	run := log.records[0].(*logging.CheckRun)
	if run.Type != "check_run" || run.Target != "8.8.8.8" || run.RunID != res.RunID || run.Err != "" {
		t.Fatalf("unexpected check_run: %#v", run)
	}
}

func TestRunEmitsEventOnLoss(t *testing.T) {
	runner := &fakeRunner{outcome: fping.Outcome{"10.0.0.5": nil}}
	rep := &fakeReporter{}
	tracer := &fakeTracer{}

	c := New(config.InitConfig{PingTimeout: 2}, runner, rep, WithTracer(tracer), WithClock(fixedClock()))

	res, err := c.Run(context.Background(), config.InstanceConfig{Addr: "10.0.0.5"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Loss != 1 || res.Total != 1 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if len(rep.hists) != 0 {
		t.Fatalf("loss must not produce an rtt sample")
	}

	if len(rep.events) != 1 {
		t.Fatalf("expected one event, got %d", len(rep.events))
	}
	evt := rep.events[0]
	if evt.EventType != "fping" || evt.Timestamp != 1700000000 {
		t.Fatalf("unexpected event: %#v", evt)
	}
	if evt.Title != "fping timeout for 10.0.0.5" {
		t.Fatalf("unexpected title %q", evt.Title)
	}
	if evt.Text != "ICMP timeout detected for 10.0.0.5, 1/1 lost" {
		t.Fatalf("unexpected text %q", evt.Text)
	}
	if evt.AggregationKey != AggregationKey("10.0.0.5") || len(evt.AggregationKey) != 32 {
		t.Fatalf("unexpected aggregation key %q", evt.AggregationKey)
	}
	if len(tracer.targets) != 1 || tracer.targets[0] != "10.0.0.5" {
		t.Fatalf("expected traceroute trigger, got %v", tracer.targets)
	}
}

func TestRunMissingAddr(t *testing.T) {
	c := New(config.InitConfig{PingTimeout: 2}, &fakeRunner{}, &fakeReporter{})

	if _, err := c.Run(context.Background(), config.InstanceConfig{}); err == nil || !strings.Contains(err.Error(), "addr") {
		t.Fatalf("expected missing addr error, got %v", err)
	}
}

func TestRunNoResultsRunsDiagnostics(t *testing.T) {
	runner := &fakeRunner{err: &fping.NoResultsError{Addresses: []string{"typo.example"}}}
	rep := &fakeReporter{}
	log := &fakeLog{}
	res := &fakeResolver{}

	c := New(config.InitConfig{PingTimeout: 2}, runner, rep, WithLogger(log), WithResolver(res))

	_, err := c.Run(context.Background(), config.InstanceConfig{Addr: "typo.example"})
	var noResults *fping.NoResultsError
	if !errors.As(err, &noResults) {
		t.Fatalf("expected NoResultsError, got %v", err)
	}
	if len(rep.counts) != 0 {
		t.Fatalf("no metrics expected on failure")
	}
	if len(res.hosts) != 1 || res.hosts[0] != "typo.example" {
		t.Fatalf("expected a lookup for typo.example, got %v", res.hosts)
	}

	if len(log.records) != 2 {
		t.Fatalf("expected dns_diagnostic and check_run records, got %d", len(log.records))
	}
	diag := log.records[0].(*logging.DNSDiagnostic)
	if diag.Err != "NXDOMAIN" || diag.Target != "typo.example" {
		t.Fatalf("unexpected diagnostic: %#v", diag)
	}
	run := log.records[1].(*logging.CheckRun)
	if !strings.Contains(run.Err, "invalid addresses") {
		t.Fatalf("check_run should carry the error: %#v", run)
	}
}

func TestRunToolNotFoundSkipsDiagnostics(t *testing.T) {
	runner := &fakeRunner{err: &fping.ToolNotFoundError{Path: "fping", Err: errors.New("not found")}}
	res := &fakeResolver{}

	c := New(config.InitConfig{PingTimeout: 2}, runner, &fakeReporter{}, WithLogger(&fakeLog{}), WithResolver(res))

	_, err := c.Run(context.Background(), config.InstanceConfig{Addr: "example.com"})
	var notFound *fping.ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ToolNotFoundError, got %v", err)
	}
	if len(res.hosts) != 0 {
		t.Fatalf("diagnostics should only run for NoResultsError")
	}
}

func TestTagsInstanceOverridesGlobal(t *testing.T) {
	got := Tags(map[string]string{"env": "prod", "team": "net"}, map[string]string{"env": "staging"}, "1.1.1.1")

	want := "dst_addr:1.1.1.1,env:staging,team:net"
	if strings.Join(got, ",") != want {
		t.Fatalf("expected %s, got %v", want, got)
	}
}

func TestTagsDstAddrWins(t *testing.T) {
	got := Tags(nil, map[string]string{"dst_addr": "spoofed"}, "1.1.1.1")

	if len(got) != 1 || got[0] != "dst_addr:1.1.1.1" {
		t.Fatalf("dst_addr must reflect the probed address, got %v", got)
	}
}

func TestAggregationKey(t *testing.T) {
	if AggregationKey("8.8.8.8") == AggregationKey("8.8.4.4") {
		t.Fatalf("aggregation key should differ per address")
	}
	if AggregationKey("a") != "0cc175b9c0f1b6a831c399e269772661" {
		t.Fatalf("unexpected md5 for a: %s", AggregationKey("a"))
	}
}
