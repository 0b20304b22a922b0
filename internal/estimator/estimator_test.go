package estimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	cumulative int64
	remaining  int64
}

func (s *fakeSource) CumulativeBytes() int64 { return s.cumulative }
func (s *fakeSource) RemainingBytes() int64  { return s.remaining }

type fakeSink struct {
	speeds []float64
	etas   []float64
}

func (s *fakeSink) SetRates(speed, eta float64) {
	s.speeds = append(s.speeds, speed)
	s.etas = append(s.etas, eta)
}

func (s *fakeSink) last() (float64, float64) {
	return s.speeds[len(s.speeds)-1], s.etas[len(s.etas)-1]
}

// newTestEstimator wires an estimator to a fake clock the tests advance.
func newTestEstimator(src *fakeSource, sink *fakeSink, interval time.Duration) (*Estimator, func(time.Duration)) {
	e := New(src, sink, interval)
	clock := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return clock }
	advance := func(d time.Duration) { clock = clock.Add(d) }
	return e, advance
}

func TestSampleComputesSpeedAndETA(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	e, advance := newTestEstimator(src, sink, 3*time.Second)
	e.Reset()

	// 3 MB over 3 s at 9 MB still to go
	advance(3 * time.Second)
	src.cumulative = 3_000_000
	src.remaining = 9_000_000
	e.Sample()

	require.Len(t, sink.speeds, 1)
	speed, eta := sink.last()
	assert.InDelta(t, 1_000_000, speed, 1)
	assert.InDelta(t, 9.0, eta, 0.01)
}

func TestSteadyTransferKeepsWindowFresh(t *testing.T) {
	src := &fakeSource{remaining: 100_000_000}
	sink := &fakeSink{}
	e, advance := newTestEstimator(src, sink, 3*time.Second)
	e.Reset()

	for i := 1; i <= 4; i++ {
		advance(3 * time.Second)
		src.cumulative = int64(i) * 3_000_000
		src.remaining -= 3_000_000
		e.Sample()
	}

	require.Len(t, sink.speeds, 4)
	for _, sp := range sink.speeds {
		// each window spans exactly one tick, so speed stays at 1 MB/s
		assert.InDelta(t, 1_000_000, sp, 1)
	}
}

func TestStallExtendsWindowInsteadOfResetting(t *testing.T) {
	src := &fakeSource{remaining: 10_000_000}
	sink := &fakeSink{}
	e, advance := newTestEstimator(src, sink, 3*time.Second)
	e.Reset()

	// healthy first tick: 1 MB/s
	advance(3 * time.Second)
	src.cumulative = 3_000_000
	e.Sample()
	require.Len(t, sink.speeds, 1)

	// stalled tick: nothing moved, the window extends and no rate is published
	advance(3 * time.Second)
	e.Sample()
	assert.Len(t, sink.speeds, 1)

	// recovery tick: the extended 6 s window smooths the burst
	advance(3 * time.Second)
	src.cumulative = 9_000_000
	e.Sample()

	require.Len(t, sink.speeds, 2)
	// 6 MB over the 6 s window
	assert.InDelta(t, 1_000_000, sink.speeds[1], 1)

	// next tick measures from a fresh window again
	advance(3 * time.Second)
	src.cumulative = 12_000_000
	e.Sample()
	require.Len(t, sink.speeds, 3)
	assert.InDelta(t, 1_000_000, sink.speeds[2], 1)
}

func TestCounterGoingBackwardsRestartsWindow(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	e, advance := newTestEstimator(src, sink, 3*time.Second)
	e.Reset()

	advance(3 * time.Second)
	src.cumulative = 3_000_000
	e.Sample()
	require.Len(t, sink.speeds, 1)

	// counters were reset underneath us; no rate is published this tick
	advance(3 * time.Second)
	src.cumulative = 0
	e.Sample()
	assert.Len(t, sink.speeds, 1)

	// and the next tick measures from the new baseline
	advance(3 * time.Second)
	src.cumulative = 2_000_000
	src.remaining = 4_000_000
	e.Sample()
	require.Len(t, sink.speeds, 2)
	speed, eta := sink.last()
	assert.InDelta(t, 666_666.6, speed, 1)
	assert.InDelta(t, 6.0, eta, 0.01)
}

func TestIdleQueueReportsZeroRates(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	e, advance := newTestEstimator(src, sink, 3*time.Second)
	e.Reset()

	advance(3 * time.Second)
	e.Sample()

	require.Len(t, sink.speeds, 1)
	speed, eta := sink.last()
	assert.Zero(t, speed)
	assert.Zero(t, eta)
}
