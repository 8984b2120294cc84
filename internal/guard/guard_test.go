package guard

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRun(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		lastRunAt time.Time
		want      bool
	}{
		{"never ran", base, time.Time{}, true},
		{"too soon", base.Add(500 * time.Millisecond), base, false},
		{"exactly interval", base.Add(time.Second), base, true},
		{"well after", base.Add(time.Minute), base, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRun(tt.now, tt.lastRunAt, time.Second))
		})
	}
}

func TestGuardDebounces(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock, time.Second)

	assert.True(t, g.TryAcquire())
	g.Release()

	clock.Advance(300 * time.Millisecond)
	assert.False(t, g.TryAcquire())

	clock.Advance(700 * time.Millisecond)
	assert.True(t, g.TryAcquire())
	g.Release()
}

func TestGuardRejectsWhileInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock, time.Second)

	assert.True(t, g.TryAcquire())
	clock.Advance(5 * time.Second)
	assert.True(t, g.InFlight())
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGuardReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock, time.Second)

	assert.True(t, g.TryAcquire())
	g.Release()
	g.Reset()

	assert.True(t, g.TryAcquire())
}

func TestSetKeepsGuardsIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewSet(clock, time.Second)

	assert.True(t, s.Get("room-x").TryAcquire())
	assert.True(t, s.Get("room-y").TryAcquire())
	assert.Same(t, s.Get("room-x"), s.Get("room-x"))

	s.Forget("room-x")
	assert.True(t, s.Get("room-x").TryAcquire())
}

func TestFailedRunDoesNotStartInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock, time.Second)

	assert.True(t, g.TryAcquire())
	g.Done(false)
	assert.True(t, g.TryAcquire())
	g.Done(true)
	assert.False(t, g.TryAcquire())
}

func TestTrailRunsOnceAfterInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock, time.Second)
	var runs atomic.Int32

	require.True(t, g.TryAcquire())
	g.Release()

	clock.Advance(300 * time.Millisecond)
	require.False(t, g.TryAcquire())
	g.Trail(func() { runs.Add(1) })
	g.Trail(func() { runs.Add(1) })
	assert.True(t, g.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(699 * time.Millisecond)
	assert.Zero(t, runs.Load())

	clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, g.Pending())
	assert.Never(t, func() bool { return runs.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTrailWaitsForInFlightRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock, time.Second)
	var runs atomic.Int32

	require.True(t, g.TryAcquire())
	g.Trail(func() { runs.Add(1) })
	clock.Advance(5 * time.Second)
	assert.Zero(t, runs.Load())

	// the run started five seconds ago, so the interval has already passed
	g.Release()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
}

func TestForgetStopsTrailingRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewSet(clock, time.Second)
	var runs atomic.Int32

	g := s.Get("room-x")
	require.True(t, g.TryAcquire())
	g.Release()
	g.Trail(func() { runs.Add(1) })

	s.Forget("room-x")
	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return runs.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
