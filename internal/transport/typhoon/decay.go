package typhoon

import (
	"context"
	"time"
)

// decayLoop implements §4.4.3's steady-state keep-alive algorithm. It
// runs for the lifetime of the endpoint and is the sole writer of
// bare HDSK frames; shadow-ridden HDSKs are written by Write (via the
// shadowPending flag this loop sets).
func (e *endpoint) decayLoop(ctx context.Context, baselineNextIn time.Duration) {
	remoteNextIn := baselineNextIn

	for {
		rttNow := e.estimator.SRTT()
		wait := remoteNextIn - rttNow
		if wait < 0 {
			wait = 0
		}

		select {
		case ev := <-e.events:
			remoteNextIn = ev.nextIn
			continue
		case <-e.closeCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		ev, ok := e.retryUntilHeard(ctx)
		if !ok {
			if e.metrics != nil {
				e.metrics.DecayTimeout()
			}
			e.setErr(ErrDecayTimeout)
			return
		}
		remoteNextIn = ev.nextIn
	}
}

// retryUntilHeard runs the inner "no reply yet" loop: signal a
// shadow-ride opportunity, wait, and if nothing arrives send a bare
// HDSK and wait again, up to MaxRetries times.
func (e *endpoint) retryUntilHeard(ctx context.Context) (remoteEvent, bool) {
	for retries := 0; retries < e.cfg.MaxRetries; retries++ {
		e.setShadowPending(true)

		select {
		case ev := <-e.events:
			e.setShadowPending(false)
			return ev, true
		case <-e.closeCh:
			return remoteEvent{}, false
		case <-ctx.Done():
			return remoteEvent{}, false
		case <-time.After(2 * e.estimator.SRTT()):
		}
		e.setShadowPending(false)

		nextIn, err := randomNextIn(maxDuration(e.estimator.Timeout(), e.cfg.MinNextIn), e.cfg.MaxNextIn)
		if err != nil {
			e.log.Error().Err(err).Msg("typhoon: failed to draw next_in for keep-alive")
			return remoteEvent{}, false
		}
		if err := e.sendHDSK(nextIn); err != nil {
			e.log.Debug().Err(err).Msg("typhoon: failed to send keep-alive")
		}

		select {
		case ev := <-e.events:
			return ev, true
		case <-e.closeCh:
			return remoteEvent{}, false
		case <-ctx.Done():
			return remoteEvent{}, false
		case <-time.After(nextIn + e.estimator.SRTT() + e.estimator.Timeout()):
		}
	}
	return remoteEvent{}, false
}
