package traceroute

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iaserrat/fpingcheck/internal/logging"
)

type Emitter interface {
	Emit(logging.Emittable) error
}

type request struct {
	target string
	runID  string
}

// Worker runs traceroutes requested by checks, at most one per target per
// cooldown, and records path changes between consecutive traces.
type Worker struct {
	cfg      Config
	cooldown time.Duration
	log      Emitter
	reqCh    chan request
	run      func(context.Context, string, Config) Result

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	lastPath map[string]string
	lastHops map[string][]logging.TracerouteHop
}

func NewWorker(cfg Config, cooldown time.Duration, log Emitter) *Worker {
	return &Worker{
		cfg:      cfg,
		cooldown: cooldown,
		log:      log,
		reqCh:    make(chan request, 64),
		run:      Run,
		limiters: make(map[string]*rate.Limiter),
		lastPath: make(map[string]string),
		lastHops: make(map[string][]logging.TracerouteHop),
	}
}

// Trigger queues a trace without blocking. It reports false when the target
// is cooling down or the queue is full.
func (w *Worker) Trigger(target, runID string) bool {
	if !w.limiter(target).Allow() {
		return false
	}

	select {
	case w.reqCh <- request{target: target, runID: runID}:
		return true
	default:
		return false
	}
}

// Run processes queued traces until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	traceTimeout := time.Duration(w.cfg.MaxHops)*w.cfg.Timeout + 2*time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.reqCh:
			trCtx, cancel := context.WithTimeout(ctx, traceTimeout)
			res := w.run(trCtx, req.target, w.cfg)
			cancel()

			w.record(req, res)
		}
	}
}

func (w *Worker) limiter(target string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()

	l := w.limiters[target]
	if l == nil {
		l = rate.NewLimiter(rate.Every(w.cooldown), 1)
		w.limiters[target] = l
	}

	return l
}

func (w *Worker) record(req request, res Result) {
	hops := toLogHops(res.Hops)
	_ = w.log.Emit(&logging.TracerouteResult{
		BaseEvent: logging.BaseEvent{
			Type:   "traceroute_result",
			Target: req.target,
			RunID:  req.runID,
		},
		Hops:     hops,
		PathHash: res.PathHash,
		Err:      res.Err,
	})

	if res.Err != "" || res.PathHash == "" {
		return
	}

	prev := w.lastPath[req.target]
	if prev != "" && prev != res.PathHash {
		_ = w.log.Emit(&logging.PathChange{
			BaseEvent: logging.BaseEvent{
				Type:   "path_change",
				Target: req.target,
				RunID:  req.runID,
			},
			PrevPathHash: prev,
			NewPathHash:  res.PathHash,
			PrevHops:     w.lastHops[req.target],
			NewHops:      hops,
		})
	}

	w.lastPath[req.target] = res.PathHash
	w.lastHops[req.target] = hops
}

func toLogHops(hops []Hop) []logging.TracerouteHop {
	out := make([]logging.TracerouteHop, 0, len(hops))
	for _, h := range hops {
		var rtt *float64
		if h.IP != "" {
			val := h.RttMs
			rtt = &val
		}
		out = append(out, logging.TracerouteHop{TTL: h.TTL, IP: h.IP, RttMs: rtt})
	}

	return out
}
