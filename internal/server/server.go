package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iaserrat/fpingcheck/internal/check"
)

// TargetStatus is the last known state of one address.
type TargetStatus struct {
	Addr      string    `json:"addr"`
	LastRun   time.Time `json:"last_run"`
	ElapsedMs float64   `json:"elapsed_ms"`
	Total     int       `json:"total_cnt"`
	Loss      int       `json:"loss_cnt"`
	Err       string    `json:"err,omitempty"`
}

// Status keeps the latest result per address.
type Status struct {
	mu      sync.RWMutex
	targets map[string]TargetStatus
}

func NewStatus() *Status {
	return &Status{targets: make(map[string]TargetStatus)}
}

func (s *Status) Observe(res check.Result, err error) {
	if res.Addr == "" {
		return
	}

	ts := TargetStatus{
		Addr:      res.Addr,
		LastRun:   res.Time.UTC(),
		ElapsedMs: float64(res.Elapsed) / float64(time.Millisecond),
		Total:     res.Total,
		Loss:      res.Loss,
	}
	if err != nil {
		ts.Err = err.Error()
	}

	s.mu.Lock()
	s.targets[res.Addr] = ts
	s.mu.Unlock()
}

func (s *Status) Snapshot() []TargetStatus {
	s.mu.RLock()
	out := make([]TargetStatus, 0, len(s.targets))
	for _, ts := range s.targets {
		out = append(out, ts)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

type healthResponse struct {
	Status  string         `json:"status"`
	Targets []TargetStatus `json:"targets"`
}

// NewRouter serves /metrics from gatherer and /healthz from status.
func NewRouter(status *Status, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		targets := status.Snapshot()

		resp := healthResponse{Status: "ok", Targets: targets}
		for _, t := range targets {
			if t.Err != "" {
				resp.Status = "degraded"
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)

	return r
}

// Serve runs an HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
