// Package metrics wraps a VictoriaMetrics metrics.Set with the counters
// and histograms algae and whirlpool expose, in the style of a single
// struct whose metrics are all created by New rather than scattered
// package-level metrics.
package metrics

import (
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// Registry holds one metrics.Set and every counter/histogram either side
// of the tunnel needs. A nil *Registry is valid and every method on it is
// a no-op, so components can be constructed without metrics in tests.
type Registry struct {
	set *metrics.Set

	sessionsStarted     *metrics.Counter
	sessionsTerminated  *metrics.Counter
	handshakeFailures   *metrics.Counter
	decayTimeouts       *metrics.Counter
	bytesUplink         *metrics.Counter
	bytesDownlink       *metrics.Counter
	rttMillis           *metrics.Histogram
	activeSessionsGauge *metrics.Gauge

	mu            sync.Mutex
	activeSessions int64
}

// New builds a Registry backed by a fresh metrics.Set.
func New() *Registry {
	set := metrics.NewSet()
	r := &Registry{
		set:                set,
		sessionsStarted:    set.NewCounter(`algae_sessions_started_total`),
		sessionsTerminated: set.NewCounter(`algae_sessions_terminated_total`),
		handshakeFailures:  set.NewCounter(`algae_handshake_failures_total`),
		decayTimeouts:      set.NewCounter(`algae_decay_timeouts_total`),
		bytesUplink:        set.NewCounter(`algae_bytes_uplink_total`),
		bytesDownlink:      set.NewCounter(`algae_bytes_downlink_total`),
		rttMillis:          set.NewHistogram(`algae_rtt_milliseconds`),
	}
	r.activeSessionsGauge = set.NewGauge(`algae_active_sessions`, func() float64 {
		r.mu.Lock()
		defer r.mu.Unlock()
		return float64(r.activeSessions)
	})
	return r
}

// WritePrometheus writes every registered metric in Prometheus exposition
// format, for a /metrics handler.
func (r *Registry) WritePrometheus(w io.Writer) {
	if r == nil {
		return
	}
	r.set.WritePrometheus(w)
}

func (r *Registry) SessionStarted() {
	if r == nil {
		return
	}
	r.sessionsStarted.Inc()
	r.mu.Lock()
	r.activeSessions++
	r.mu.Unlock()
}

func (r *Registry) SessionTerminated() {
	if r == nil {
		return
	}
	r.sessionsTerminated.Inc()
	r.mu.Lock()
	if r.activeSessions > 0 {
		r.activeSessions--
	}
	r.mu.Unlock()
}

func (r *Registry) HandshakeFailed() {
	if r == nil {
		return
	}
	r.handshakeFailures.Inc()
}

func (r *Registry) DecayTimeout() {
	if r == nil {
		return
	}
	r.decayTimeouts.Inc()
}

func (r *Registry) BytesUplink(n int) {
	if r == nil {
		return
	}
	r.bytesUplink.Add(n)
}

func (r *Registry) BytesDownlink(n int) {
	if r == nil {
		return
	}
	r.bytesDownlink.Add(n)
}

func (r *Registry) ObserveRTT(milliseconds float64) {
	if r == nil {
		return
	}
	r.rttMillis.Update(milliseconds)
}
