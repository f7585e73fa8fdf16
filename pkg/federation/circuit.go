package federation

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// CircuitState is a snapshot of one backend's breaker.
type CircuitState struct {
	FailureCount  uint32        `json:"failureCount"`
	LastFailureAt time.Time     `json:"lastFailureAt,omitzero"`
	OpenUntil     time.Time     `json:"openUntil,omitzero"`
	ResetAfter    time.Duration `json:"resetAfter"`
}

// IsOpen reports whether the snapshot was open at now.
func (s CircuitState) IsOpen(now time.Time) bool {
	return !s.OpenUntil.IsZero() && now.Before(s.OpenUntil)
}

// Breaker is the failure/cooldown state machine for one backend. All times
// are supplied by the caller.
type Breaker struct {
	threshold  uint32
	resetAfter time.Duration
	backoff    Backoff

	mu          sync.Mutex
	failures    uint32
	lastFailure time.Time
	openUntil   time.Time
}

// NewBreaker returns a closed breaker that opens after threshold consecutive
// failures and forgets failures older than resetAfter.
func NewBreaker(threshold uint32, resetAfter time.Duration, backoff Backoff) *Breaker {
	return &Breaker{threshold: threshold, resetAfter: resetAfter, backoff: backoff}
}

// IsOpen reports whether calls must be rejected at now. An elapsed window is
// cleared together with the failure count.
func (b *Breaker) IsOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOpenLocked(now)
}

func (b *Breaker) isOpenLocked(now time.Time) bool {
	if !b.openUntil.IsZero() {
		if now.Before(b.openUntil) {
			return true
		}
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	b.decayLocked(now)
	return false
}

// decayLocked forgets failures once resetAfter has passed since the last one.
func (b *Breaker) decayLocked(now time.Time) {
	if b.failures > 0 && !b.lastFailure.IsZero() && now.Sub(b.lastFailure) >= b.resetAfter {
		b.failures = 0
	}
}

// RegisterFailure records a failure. When the count reaches the threshold the
// breaker opens and the cooldown is returned with true.
func (b *Breaker) RegisterFailure(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// An elapsed window closes before the failure is counted.
	b.isOpenLocked(now)
	b.failures++
	b.lastFailure = now
	if b.threshold == 0 || b.failures < b.threshold {
		return 0, false
	}
	cooldown := b.backoff.Compute(b.failures - b.threshold)
	if until := now.Add(cooldown); until.After(b.openUntil) {
		b.openUntil = until
	}
	return cooldown, true
}

// RegisterSuccess fully resets the breaker.
func (b *Breaker) RegisterSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.openUntil = time.Time{}
	b.mu.Unlock()
}

// Remaining returns the cooldown left at now, or zero when closed.
func (b *Breaker) Remaining(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() || !now.Before(b.openUntil) {
		return 0
	}
	return b.openUntil.Sub(now)
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitState{
		FailureCount:  b.failures,
		LastFailureAt: b.lastFailure,
		OpenUntil:     b.openUntil,
		ResetAfter:    b.resetAfter,
	}
}

// BreakerSet holds one Breaker per backend id, created on first use.
type BreakerSet struct {
	threshold  uint32
	resetAfter time.Duration
	backoff    Backoff

	breakers *xsync.MapOf[string, *Breaker]
}

func NewBreakerSet(threshold uint32, resetAfter time.Duration, backoff Backoff) *BreakerSet {
	return &BreakerSet{
		threshold:  threshold,
		resetAfter: resetAfter,
		backoff:    backoff,
		breakers:   xsync.NewMapOf[string, *Breaker](),
	}
}

// Get returns the breaker for id, creating it if needed.
func (s *BreakerSet) Get(id string) *Breaker {
	b, _ := s.breakers.LoadOrCompute(id, func() *Breaker {
		return NewBreaker(s.threshold, s.resetAfter, s.backoff)
	})
	return b
}

// Snapshot returns the state of every known breaker.
func (s *BreakerSet) Snapshot() map[string]CircuitState {
	out := make(map[string]CircuitState, s.breakers.Size())
	s.breakers.Range(func(id string, b *Breaker) bool {
		out[id] = b.State()
		return true
	})
	return out
}

// OpenCount counts breakers open at now without mutating them.
func (s *BreakerSet) OpenCount(now time.Time) int {
	n := 0
	s.breakers.Range(func(_ string, b *Breaker) bool {
		if b.State().IsOpen(now) {
			n++
		}
		return true
	})
	return n
}

func (s *BreakerSet) Clear() { s.breakers.Clear() }
