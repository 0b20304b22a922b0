// Package estimator converts the queue's byte counters into speed and ETA on
// a fixed sampling interval. Both values are advisory and UI-facing only.
package estimator

import (
	"context"
	"time"
)

// Source exposes the counters the estimator samples.
type Source interface {
	// CumulativeBytes is the monotonic count of payload bytes sent.
	CumulativeBytes() int64
	// RemainingBytes is the sum of not-yet-sent bytes across the queue.
	RemainingBytes() int64
}

// Sink receives the derived rates.
type Sink interface {
	SetRates(speed, etaSeconds float64)
}

// Estimator samples a Source every interval. When a tick moved too few bytes
// relative to the last known speed the sampling window is extended instead of
// reset, so a briefly stalled transfer does not report a noisy near-zero
// speed.
type Estimator struct {
	src      Source
	sink     Sink
	interval time.Duration
	now      func() time.Time

	windowStart time.Time
	windowBytes int64
	lastSpeed   float64
}

// New creates an estimator sampling src every interval.
func New(src Source, sink Sink, interval time.Duration) *Estimator {
	return &Estimator{
		src:      src,
		sink:     sink,
		interval: interval,
		now:      time.Now,
	}
}

// Run samples on a ticker until ctx is cancelled.
func (e *Estimator) Run(ctx context.Context) {
	e.Reset()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sample()
		}
	}
}

// Reset starts a fresh sampling window at the current counter value.
func (e *Estimator) Reset() {
	e.windowStart = e.now()
	e.windowBytes = e.src.CumulativeBytes()
	e.lastSpeed = 0
}

// Sample recomputes speed and ETA from the bytes moved since the window
// started and publishes them to the sink.
func (e *Estimator) Sample() {
	now := e.now()
	total := e.src.CumulativeBytes()
	if total < e.windowBytes {
		// counter went backwards (counters were reset); start over
		e.windowStart = now
		e.windowBytes = total
		return
	}

	delta := total - e.windowBytes
	elapsed := now.Sub(e.windowStart).Seconds()
	if elapsed <= 0 {
		return
	}

	// too little moved for the last known speed: extend the window into the
	// next tick instead of publishing a noisy near-zero speed
	if e.lastSpeed > 0 && float64(delta) < e.lastSpeed*e.interval.Seconds()/2 {
		return
	}

	speed := float64(delta) / elapsed
	e.windowStart = now
	e.windowBytes = total
	if speed > 0 {
		e.lastSpeed = speed
	}

	eta := 0.0
	if speed > 0 {
		eta = float64(e.src.RemainingBytes()) / speed
	}
	e.sink.SetRates(speed, eta)
}
