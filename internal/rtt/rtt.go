// Package rtt implements the adaptive round-trip-time estimator used by
// the TYPHOON decay loop to size its keep-alive and retransmission
// timeouts (§4.4.2). It is Jacobson's algorithm (RFC 6298's ancestor):
// smoothed RTT and RTT variance, both exponentially weighted, combined
// into a timeout that is clamped to a configured range.
package rtt

import "time"

// Estimator tracks smoothed RTT (srtt) and RTT variance (rttvar) across a
// sequence of measured round trips, per §4.4.2. It is not safe for
// concurrent use; callers that share one across goroutines must guard it
// themselves (the decay loop owns a single Estimator per endpoint).
type Estimator struct {
	alpha, beta float64

	minRTT, maxRTT         time.Duration
	minTimeout, maxTimeout time.Duration
	rttMult                float64

	srtt, rttvar time.Duration
	started      bool
}

// Config bundles the tunable bounds for an Estimator, sourced from the
// TYPHOON_* configuration keys (§6.3).
type Config struct {
	MinRTT     time.Duration
	MaxRTT     time.Duration
	DefaultRTT time.Duration
	RTTMult    float64
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

// New builds an Estimator seeded with cfg.DefaultRTT, per the "assume
// DEFAULT_RTT until the first measurement arrives" rule in §4.4.2.
func New(cfg Config) *Estimator {
	return &Estimator{
		alpha:      0.125,
		beta:       0.25,
		minRTT:     cfg.MinRTT,
		maxRTT:     cfg.MaxRTT,
		minTimeout: cfg.MinTimeout,
		maxTimeout: cfg.MaxTimeout,
		rttMult:    cfg.RTTMult,
		srtt:       clamp(cfg.DefaultRTT, cfg.MinRTT, cfg.MaxRTT),
		rttvar:     cfg.DefaultRTT / 2,
	}
}

// Update folds a freshly measured round trip into the estimator, per
// Jacobson's algorithm: rttvar moves toward |srtt-sample| at rate beta,
// then srtt moves toward sample at rate alpha. sample is clamped to
// [minRTT, maxRTT] first so a single wild outlier (or a reordered,
// stale ACK) cannot blow the timeout out to MaxTimeout permanently.
func (e *Estimator) Update(sample time.Duration) {
	sample = clamp(sample, e.minRTT, e.maxRTT)
	if !e.started {
		e.srtt = sample
		e.rttvar = sample / 2
		e.started = true
		return
	}
	delta := sample - e.srtt
	if delta < 0 {
		delta = -delta
	}
	e.rttvar = weighted(e.rttvar, delta, e.beta)
	e.srtt = weighted(e.srtt, sample, e.alpha)
}

func weighted(current, sample time.Duration, weight float64) time.Duration {
	return time.Duration((1-weight)*float64(current) + weight*float64(sample))
}

// SRTT returns the current smoothed RTT estimate.
func (e *Estimator) SRTT() time.Duration { return e.srtt }

// Timeout returns srtt + rttMult*rttvar, clamped to [minTimeout,
// maxTimeout], the value the decay loop waits before declaring a
// handshake or keep-alive round lost (§4.4.2).
func (e *Estimator) Timeout() time.Duration {
	t := e.srtt + time.Duration(e.rttMult*float64(e.rttvar))
	return clamp(t, e.minTimeout, e.maxTimeout)
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// SequenceDelta computes b-a under modular arithmetic mod 2^32, the
// wraparound-safe subtraction used to compare packet numbers and
// millisecond timestamps that are transmitted as 32-bit wire values
// (§4.4.1). The result is the signed delta in [-2^31, 2^31) that would
// have produced b from a by repeated +1 wraparound.
func SequenceDelta(a, b uint32) int64 {
	const mod = int64(1) << 32
	d := (int64(b) - int64(a)) % mod
	if d >= mod/2 {
		d -= mod
	}
	if d < -mod/2 {
		d += mod
	}
	return d
}
