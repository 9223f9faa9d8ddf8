package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iaserrat/fpingcheck/internal/logging"
)

const addrTag = "dst_addr"

// Emitter is the structured log the sink writes records to.
type Emitter interface {
	Emit(logging.Emittable) error
}

// Event is a backend event raised by a check.
type Event struct {
	Target         string
	RunID          string
	Timestamp      int64
	EventType      string
	Title          string
	Text           string
	AggregationKey string
	Tags           []string
}

// Sink buffers counts and histogram samples between flushes and mirrors
// them into Prometheus collectors.
type Sink struct {
	log Emitter

	mu     sync.Mutex
	counts map[string]*countSeries
	hists  map[string]*histSeries

	promCounters map[string]*prometheus.CounterVec
	promHists    map[string]*prometheus.HistogramVec
	promEvents   *prometheus.CounterVec
}

type countSeries struct {
	name  string
	tags  []string
	value float64
}

type histSeries struct {
	name    string
	tags    []string
	samples []float64
}

// NewSink registers the fping collectors on reg. A nil reg skips Prometheus.
func NewSink(log Emitter, reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		log:          log,
		counts:       make(map[string]*countSeries),
		hists:        make(map[string]*histSeries),
		promCounters: make(map[string]*prometheus.CounterVec),
		promHists:    make(map[string]*prometheus.HistogramVec),
	}
	if reg == nil {
		return s, nil
	}

	s.promCounters["fping.total_cnt"] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fping_total_cnt",
		Help: "Hosts checked.",
	}, []string{addrTag})
	s.promCounters["fping.loss_cnt"] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fping_loss_cnt",
		Help: "Hosts without a measurement.",
	}, []string{addrTag})
	s.promHists["fping.rtt"] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fping_rtt_ms",
		Help:    "Round-trip time in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{addrTag})
	s.promEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fping_events_total",
		Help: "Events raised by checks.",
	}, []string{"event_type", addrTag})

	collectors := []prometheus.Collector{s.promEvents}
	for _, c := range s.promCounters {
		collectors = append(collectors, c)
	}
	for _, h := range s.promHists {
		collectors = append(collectors, h)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return s, nil
}

func (s *Sink) Count(name string, value int, tags []string) {
	s.mu.Lock()
	key := seriesKey(name, tags)
	cs := s.counts[key]
	if cs == nil {
		cs = &countSeries{name: name, tags: append([]string(nil), tags...)}
		s.counts[key] = cs
	}
	cs.value += float64(value)
	s.mu.Unlock()

	if c := s.promCounters[name]; c != nil {
		c.WithLabelValues(tagValue(tags, addrTag)).Add(float64(value))
	}
}

func (s *Sink) Histogram(name string, value float64, tags []string) {
	s.mu.Lock()
	key := seriesKey(name, tags)
	hs := s.hists[key]
	if hs == nil {
		hs = &histSeries{name: name, tags: append([]string(nil), tags...)}
		s.hists[key] = hs
	}
	hs.samples = append(hs.samples, value)
	s.mu.Unlock()

	if h := s.promHists[name]; h != nil {
		h.WithLabelValues(tagValue(tags, addrTag)).Observe(value)
	}
}

// Event is written to the log immediately rather than at flush time.
func (s *Sink) Event(e Event) error {
	if s.promEvents != nil {
		s.promEvents.WithLabelValues(e.EventType, tagValue(e.Tags, addrTag)).Inc()
	}

	return s.log.Emit(&logging.Event{
		BaseEvent: logging.BaseEvent{
			Type:   "event",
			Target: e.Target,
			RunID:  e.RunID,
		},
		Timestamp:      e.Timestamp,
		EventType:      e.EventType,
		MsgTitle:       e.Title,
		MsgText:        e.Text,
		AggregationKey: e.AggregationKey,
		Tags:           e.Tags,
	})
}

// Flush writes one record per buffered series and resets the buffers.
func (s *Sink) Flush() error {
	s.mu.Lock()
	counts := s.counts
	hists := s.hists
	s.counts = make(map[string]*countSeries)
	s.hists = make(map[string]*histSeries)
	s.mu.Unlock()

	var errs []error

	for _, key := range sortedKeys(counts) {
		cs := counts[key]
		err := s.log.Emit(&logging.Metric{
			BaseEvent: logging.BaseEvent{Type: "metric", Target: tagValue(cs.tags, addrTag)},
			Name:      cs.name,
			Value:     cs.value,
			Tags:      cs.tags,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, key := range sortedKeys(hists) {
		hs := hists[key]
		st := summarize(hs.samples)
		err := s.log.Emit(&logging.Histogram{
			BaseEvent: logging.BaseEvent{Type: "histogram", Target: tagValue(hs.tags, addrTag)},
			Name:      hs.name,
			Count:     len(hs.samples),
			Min:       st.min,
			Max:       st.max,
			Avg:       st.avg,
			P95:       st.p95,
			Tags:      hs.tags,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

type stats struct {
	min float64
	max float64
	avg float64
	p95 float64
}

func summarize(samples []float64) stats {
	if len(samples) == 0 {
		return stats{}
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	idx := int(float64(len(sorted)-1) * 0.95)
	return stats{
		min: sorted[0],
		max: sorted[len(sorted)-1],
		avg: sum / float64(len(sorted)),
		p95: sorted[idx],
	}
}

func seriesKey(name string, tags []string) string {
	return name + "|" + strings.Join(tags, ",")
}

func tagValue(tags []string, key string) string {
	prefix := key + ":"
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			return strings.TrimPrefix(t, prefix)
		}
	}

	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
