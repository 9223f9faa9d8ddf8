package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iaserrat/fpingcheck/internal/check"
	"github.com/iaserrat/fpingcheck/internal/config"
)

type Checker interface {
	Run(ctx context.Context, inst config.InstanceConfig) (check.Result, error)
}

type Flusher interface {
	Flush() error
}

// Observer is told about every finished check.
type Observer interface {
	Observe(res check.Result, err error)
}

type Agent struct {
	checker   Checker
	instances []config.InstanceConfig
	interval  time.Duration

	flusher    Flusher
	observer   Observer
	onError    func(error)
	background []func(context.Context) error
}

type Option func(*Agent)

func WithFlusher(f Flusher) Option {
	return func(a *Agent) { a.flusher = f }
}

func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observer = o }
}

// WithErrorHandler receives check and flush errors. They never stop the agent.
func WithErrorHandler(fn func(error)) Option {
	return func(a *Agent) { a.onError = fn }
}

// WithBackground runs fn alongside the check loops; a non-nil error from it
// stops the agent.
func WithBackground(fn func(context.Context) error) Option {
	return func(a *Agent) { a.background = append(a.background, fn) }
}

func New(checker Checker, instances []config.InstanceConfig, interval time.Duration, opts ...Option) *Agent {
	a := &Agent{
		checker:   checker,
		instances: append([]config.InstanceConfig(nil), instances...),
		interval:  interval,
		onError:   func(error) {},
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Run checks every instance immediately and then once per interval, each on
// its own goroutine, until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, inst := range a.instances {
		inst := inst
		g.Go(func() error {
			a.loop(gctx, func() { a.checkOnce(gctx, inst) })
			return nil
		})
	}

	if a.flusher != nil {
		g.Go(func() error {
			a.loop(gctx, a.flush)
			a.flush()
			return nil
		})
	}

	for _, fn := range a.background {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}

	return g.Wait()
}

// Outcome pairs a check result with its error.
type Outcome struct {
	Result check.Result
	Err    error
}

// RunOnce checks every instance a single time and flushes.
func (a *Agent) RunOnce(ctx context.Context) []Outcome {
	out := make([]Outcome, len(a.instances))

	var g errgroup.Group
	for i, inst := range a.instances {
		i, inst := i, inst
		g.Go(func() error {
			res, err := a.checker.Run(ctx, inst)
			out[i] = Outcome{Result: res, Err: err}
			if a.observer != nil {
				a.observer.Observe(res, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if a.flusher != nil {
		a.flush()
	}

	return out
}

func (a *Agent) loop(ctx context.Context, fn func()) {
	fn()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (a *Agent) checkOnce(ctx context.Context, inst config.InstanceConfig) {
	res, err := a.checker.Run(ctx, inst)
	if a.observer != nil {
		a.observer.Observe(res, err)
	}
	if err != nil {
		a.onError(err)
	}
}

func (a *Agent) flush() {
	if err := a.flusher.Flush(); err != nil {
		a.onError(err)
	}
}
