package check

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iaserrat/fpingcheck/internal/config"
	"github.com/iaserrat/fpingcheck/internal/fping"
	"github.com/iaserrat/fpingcheck/internal/logging"
	"github.com/iaserrat/fpingcheck/internal/metrics"
	"github.com/iaserrat/fpingcheck/internal/resolve"
)

const basename = "fping"

// Runner executes one probe batch.
type Runner interface {
	Run(fping.Request) (fping.Outcome, error)
}

// Reporter receives the metrics and events produced by a check.
type Reporter interface {
	Count(name string, value int, tags []string)
	Histogram(name string, value float64, tags []string)
	Event(metrics.Event) error
}

type Emitter interface {
	Emit(logging.Emittable) error
}

type Resolver interface {
	Lookup(ctx context.Context, host string) resolve.Result
}

type Tracer interface {
	Trigger(target, runID string) bool
}

// Result summarizes one check invocation.
type Result struct {
	Addr    string
	RunID   string
	Time    time.Time
	Elapsed time.Duration
	Total   int
	Loss    int
}

type Check struct {
	timeout    time.Duration
	globalTags map[string]string
	runner     Runner
	reporter   Reporter

	log      Emitter
	resolver Resolver
	tracer   Tracer
	now      func() time.Time
}

type Option func(*Check)

func WithLogger(l Emitter) Option {
	return func(c *Check) { c.log = l }
}

// WithResolver enables DNS diagnostics when no address produced a result.
func WithResolver(r Resolver) Option {
	return func(c *Check) { c.resolver = r }
}

// WithTracer requests a traceroute whenever loss is observed.
func WithTracer(t Tracer) Option {
	return func(c *Check) { c.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(c *Check) { c.now = now }
}

func New(init config.InitConfig, runner Runner, reporter Reporter, opts ...Option) *Check {
	c := &Check{
		timeout:    fping.TimeoutFromSeconds(init.PingTimeout),
		globalTags: init.Tags,
		runner:     runner,
		reporter:   reporter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run probes inst.Addr once and reports the outcome.
func (c *Check) Run(ctx context.Context, inst config.InstanceConfig) (Result, error) {
	if inst.Addr == "" {
		return Result{}, errors.New("missing required parameter: addr")
	}

	addr := inst.Addr
	tags := Tags(c.globalTags, inst.Tags, addr)
	res := Result{Addr: addr, RunID: uuid.NewString(), Time: c.now()}

	req, err := fping.NewRequest([]string{addr}, c.timeout)
	if err != nil {
		return res, err
	}

	start := c.now()
	outcome, err := c.runner.Run(req)
	res.Elapsed = c.now().Sub(start)
	if err != nil {
		c.diagnose(ctx, res, err)
		c.logRun(res, err)
		return res, err
	}

	for _, rtt := range outcome {
		res.Total++
		if rtt == nil {
			res.Loss++
			continue
		}
		c.reporter.Histogram(basename+".rtt", *rtt, tags)
	}

	c.reporter.Count(basename+".total_cnt", res.Total, tags)
	c.reporter.Count(basename+".loss_cnt", res.Loss, tags)

	var emitErr error
	if res.Loss > 0 {
		emitErr = c.reporter.Event(metrics.Event{
			Target:         addr,
			RunID:          res.RunID,
			Timestamp:      c.now().Unix(),
			EventType:      basename,
			Title:          fmt.Sprintf("fping timeout for %s", addr),
			Text:           fmt.Sprintf("ICMP timeout detected for %s, %d/%d lost", addr, res.Loss, res.Total),
			AggregationKey: AggregationKey(addr),
			Tags:           tags,
		})
		if emitErr != nil {
			emitErr = fmt.Errorf("emit event: %w", emitErr)
		}

		if c.tracer != nil {
			c.tracer.Trigger(addr, res.RunID)
		}
	}

	c.logRun(res, emitErr)
	return res, emitErr
}

func (c *Check) diagnose(ctx context.Context, res Result, err error) {
	var noResults *fping.NoResultsError
	if c.resolver == nil || c.log == nil || !errors.As(err, &noResults) {
		return
	}
	if net.ParseIP(res.Addr) != nil {
		return
	}

	lookup := c.resolver.Lookup(ctx, res.Addr)
	_ = c.log.Emit(&logging.DNSDiagnostic{
		BaseEvent: logging.BaseEvent{Type: "dns_diagnostic", Target: res.Addr, RunID: res.RunID},
		Resolver:  lookup.Resolver,
		Addrs:     lookup.Addrs,
		Err:       lookup.Err,
	})
}

func (c *Check) logRun(res Result, err error) {
	if c.log == nil {
		return
	}

	rec := &logging.CheckRun{
		BaseEvent: logging.BaseEvent{Type: "check_run", Target: res.Addr, RunID: res.RunID},
		ElapsedMs: float64(res.Elapsed) / float64(time.Millisecond),
		Total:     res.Total,
		Loss:      res.Loss,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	_ = c.log.Emit(rec)
}

// Tags merges global and instance tags, instance values winning, adds
// dst_addr and renders them as sorted key:value pairs.
func Tags(global, instance map[string]string, addr string) []string {
	merged := make(map[string]string, len(global)+len(instance)+1)
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range instance {
		merged[k] = v
	}
	merged["dst_addr"] = addr

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+":"+v)
	}
	sort.Strings(out)

	return out
}

// AggregationKey is the hex MD5 of addr, used to deduplicate events per
// target.
func AggregationKey(addr string) string {
	sum := md5.Sum([]byte(addr))
	return hex.EncodeToString(sum[:])
}
