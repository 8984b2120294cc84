package guard

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ShouldRun reports whether at least minInterval has passed since lastRunAt. A zero
// lastRunAt always runs.
func ShouldRun(now, lastRunAt time.Time, minInterval time.Duration) bool {
	if lastRunAt.IsZero() {
		return true
	}
	return now.Sub(lastRunAt) >= minInterval
}

// Guard debounces a repeated async check and refuses to start it while a previous
// run is still in flight. A refused trigger can be kept with Trail so it runs once the
// guard allows it.
type Guard struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	minInterval time.Duration
	lastRunAt   time.Time
	startedAt   time.Time
	inFlight    bool
	trailing    func()
	timer       clockwork.Timer
}

func New(clock clockwork.Clock, minInterval time.Duration) *Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{clock: clock, minInterval: minInterval}
}

// TryAcquire marks a run as started. Callers must call Done or Release when it
// finishes.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if g.inFlight || !ShouldRun(now, g.lastRunAt, g.minInterval) {
		return false
	}
	g.inFlight = true
	g.startedAt = now
	return true
}

// Release ends a successful run.
func (g *Guard) Release() {
	g.Done(true)
}

// Done ends a run. Only a successful run starts a new interval.
func (g *Guard) Done(ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
	if ok {
		g.lastRunAt = g.startedAt
	}
	g.scheduleLocked()
}

// Trail keeps fn to run once nothing is in flight and the interval has passed.
// Triggers arriving before then collapse into that single run; the latest fn wins.
func (g *Guard) Trail(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trailing = fn
	g.scheduleLocked()
}

func (g *Guard) scheduleLocked() {
	if g.trailing == nil || g.inFlight || g.timer != nil {
		return
	}
	var wait time.Duration
	if !g.lastRunAt.IsZero() {
		wait = g.minInterval - g.clock.Since(g.lastRunAt)
	}
	if wait < 0 {
		wait = 0
	}
	g.timer = g.clock.AfterFunc(wait, g.fire)
}

func (g *Guard) fire() {
	g.mu.Lock()
	fn := g.trailing
	g.trailing = nil
	g.timer = nil
	g.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop drops a pending trailing run.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trailing = nil
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// Reset forgets the last run, e.g. when the guarded view changes.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.lastRunAt = time.Time{}
	g.mu.Unlock()
}

func (g *Guard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Pending reports whether a trailing run is waiting.
func (g *Guard) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trailing != nil
}

// Set is a keyed collection of guards sharing a clock and interval.
type Set struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	minInterval time.Duration
	guards      map[string]*Guard
}

func NewSet(clock clockwork.Clock, minInterval time.Duration) *Set {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Set{clock: clock, minInterval: minInterval, guards: make(map[string]*Guard)}
}

func (s *Set) Get(key string) *Guard {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[key]
	if !ok {
		g = New(s.clock, s.minInterval)
		s.guards[key] = g
	}
	return g
}

// Forget drops the guard of key and any trailing run it holds.
func (s *Set) Forget(key string) {
	s.mu.Lock()
	g, ok := s.guards[key]
	delete(s.guards, key)
	s.mu.Unlock()
	if ok {
		g.Stop()
	}
}
