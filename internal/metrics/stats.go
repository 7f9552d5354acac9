// Package metrics counts remote store calls, both as an in-process snapshot
// for the status API and as Prometheus collectors.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultError    = "error"
)

// Stats tracks per-operation counters and timings of remote calls.
type Stats struct {
	mu  sync.RWMutex
	ops map[string]*opStats

	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

type opStats struct {
	req      int64
	success  int64
	notFound int64
	fail     int64
	totalNs  int64
	lastNs   int64
}

// NewStats returns Stats whose collectors are registered with reg. A nil reg
// keeps the collectors unregistered.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		ops: make(map[string]*opStats),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riakfs",
			Subsystem: "store",
			Name:      "calls_total",
			Help:      "Remote store calls by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "riakfs",
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Latency of remote store calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riakfs",
			Subsystem: "store",
			Name:      "object_bytes_total",
			Help:      "Object payload bytes moved, by direction.",
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(s.calls, s.duration, s.bytes)
	}
	return s
}

// Record adds one call of op that took dur and ended with err.
func (s *Stats) Record(op string, dur time.Duration, err error) {
	result := resultOK
	switch {
	case errors.Is(err, riakstore.ErrNotFound):
		result = resultNotFound
	case err != nil:
		result = resultError
	}
	s.calls.WithLabelValues(op, result).Inc()
	s.duration.WithLabelValues(op).Observe(dur.Seconds())

	ns := max(dur.Nanoseconds(), 0)
	s.mu.Lock()
	st := s.ops[op]
	if st == nil {
		st = &opStats{}
		s.ops[op] = st
	}
	st.req++
	switch result {
	case resultOK:
		st.success++
	case resultNotFound:
		st.notFound++
	default:
		st.fail++
	}
	st.totalNs += ns
	st.lastNs = ns
	s.mu.Unlock()
}

// AddBytes counts payload bytes; direction is "in" or "out".
func (s *Stats) AddBytes(direction string, n int) {
	s.bytes.WithLabelValues(direction).Add(float64(n))
}

type OpSnapshot struct {
	Requests int64   `json:"requests"`
	Success  int64   `json:"success"`
	NotFound int64   `json:"not_found"`
	Fail     int64   `json:"fail"`
	AvgMs    float64 `json:"avg_ms"`
	LastMs   float64 `json:"last_ms"`
}

// Snapshot returns a copy of the counters suitable for JSON.
func (s *Stats) Snapshot() map[string]OpSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]OpSnapshot, len(s.ops))
	for name, st := range s.ops {
		avg := 0.0
		if st.req > 0 {
			avg = float64(st.totalNs) / float64(st.req) / 1e6
		}
		out[name] = OpSnapshot{
			Requests: st.req,
			Success:  st.success,
			NotFound: st.notFound,
			Fail:     st.fail,
			AvgMs:    avg,
			LastMs:   float64(st.lastNs) / 1e6,
		}
	}
	return out
}

// Reset clears the snapshot counters. Prometheus counters keep counting.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.ops = make(map[string]*opStats)
	s.mu.Unlock()
}
