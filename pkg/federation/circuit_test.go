package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitter(int64) int64 { return 0 }

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 100 * time.Millisecond, Max: 5 * time.Second, jitter: noJitter}
	prev := time.Duration(0)
	for attempt := range uint32(64) {
		d := b.Compute(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, b.Max)
		prev = d
	}
	assert.Equal(t, 100*time.Millisecond, b.Compute(0))
	assert.Equal(t, 400*time.Millisecond, b.Compute(2))
	assert.Equal(t, 5*time.Second, b.Compute(1<<31))
}

func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	b := NewBackoff(10*time.Millisecond, 50*time.Millisecond)
	for range 200 {
		d := b.Compute(1)
		assert.GreaterOrEqual(t, d, 20*time.Millisecond)
		assert.Less(t, d, 30*time.Millisecond)
	}
}

func TestBackoffFloor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Millisecond, Backoff{}.Compute(3))
	assert.Equal(t, time.Millisecond, Backoff{Initial: time.Microsecond, Max: time.Microsecond, jitter: noJitter}.Compute(0))
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(3, time.Minute, Backoff{Initial: time.Second, Max: 10 * time.Second, jitter: noJitter})

	for range 2 {
		d, opened := b.RegisterFailure(now)
		assert.False(t, opened)
		assert.Zero(t, d)
	}
	d, opened := b.RegisterFailure(now)
	require.True(t, opened)
	assert.Equal(t, time.Second, d)
	assert.True(t, b.IsOpen(now))
	assert.Equal(t, time.Second, b.Remaining(now))

	// Failures while open only extend the window.
	d, opened = b.RegisterFailure(now.Add(500 * time.Millisecond))
	require.True(t, opened)
	assert.Equal(t, 2*time.Second, d)
	assert.Equal(t, now.Add(2500*time.Millisecond), b.State().OpenUntil)

	// An elapsed window closes the circuit and clears the count.
	later := now.Add(3 * time.Second)
	assert.False(t, b.IsOpen(later))
	assert.Zero(t, b.State().FailureCount)
	assert.Zero(t, b.Remaining(later))
}

func TestBreakerFailureAfterElapsedWindowStartsOver(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(3, time.Minute, Backoff{Initial: time.Second, Max: 10 * time.Second, jitter: noJitter})
	for range 3 {
		b.RegisterFailure(now)
	}
	require.Equal(t, now.Add(time.Second), b.State().OpenUntil)

	// No IsOpen call between the window ending and the next failure.
	d, opened := b.RegisterFailure(now.Add(10 * time.Second))
	assert.False(t, opened)
	assert.Zero(t, d)
	state := b.State()
	assert.EqualValues(t, 1, state.FailureCount)
	assert.True(t, state.OpenUntil.IsZero())
	assert.False(t, b.IsOpen(now.Add(10*time.Second)))
}

func TestBreakerForgetsOldFailures(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(3, time.Minute, Backoff{Initial: time.Second, Max: time.Second, jitter: noJitter})
	b.RegisterFailure(now)
	b.RegisterFailure(now)

	_, opened := b.RegisterFailure(now.Add(2 * time.Minute))
	assert.False(t, opened, "failures older than the reset window are forgotten")
	assert.EqualValues(t, 1, b.State().FailureCount)

	b.RegisterSuccess()
	assert.Equal(t, CircuitState{ResetAfter: time.Minute}, b.State())
}

func TestBreakerWithZeroThresholdNeverOpens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := NewBreaker(0, time.Minute, NewBackoff(time.Second, time.Second))
	for range 10 {
		_, opened := b.RegisterFailure(now)
		assert.False(t, opened)
	}
	assert.False(t, b.IsOpen(now))
}

func TestBreakerSet(t *testing.T) {
	t.Parallel()

	now := time.Now()
	set := NewBreakerSet(1, time.Minute, Backoff{Initial: time.Second, Max: time.Second, jitter: noJitter})
	assert.Same(t, set.Get("alpha"), set.Get("alpha"))

	set.Get("alpha").RegisterFailure(now)
	set.Get("beta")
	assert.Equal(t, 1, set.OpenCount(now))
	assert.Len(t, set.Snapshot(), 2)
	assert.True(t, set.Snapshot()["alpha"].IsOpen(now))

	set.Clear()
	assert.Empty(t, set.Snapshot())
}

func TestToolCache(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewToolCache(time.Minute)
	_, hit := c.Lookup("alpha", "h1", now)
	assert.False(t, hit)

	c.Store("alpha", "h1", 4, now)
	n, hit := c.Lookup("alpha", "h1", now.Add(50*time.Second))
	require.True(t, hit)
	assert.Equal(t, 4, n)

	// The hit above slid the expiry forward.
	_, hit = c.Lookup("alpha", "h1", now.Add(100*time.Second))
	assert.True(t, hit)
	_, hit = c.Lookup("alpha", "h2", now.Add(100*time.Second))
	assert.False(t, hit)
	_, hit = c.Lookup("alpha", "h1", now.Add(10*time.Minute))
	assert.False(t, hit)

	c.Invalidate("alpha")
	assert.Zero(t, c.Len())

	disabled := NewToolCache(0)
	disabled.Store("alpha", "h1", 1, now)
	_, hit = disabled.Lookup("alpha", "h1", now)
	assert.False(t, hit)
	assert.Zero(t, disabled.Len())
}

func TestNamespaces(t *testing.T) {
	t.Parallel()

	prefixed := ServerPrefixNamespace{}
	assert.Equal(t, "github__search", prefixed.ToolName("github", "search"))
	assert.Equal(t, "github.search", ServerPrefixNamespace{Separator: "."}.ToolName("github", "search"))
	assert.Equal(t, "search", FlatNamespace{}.ToolName("github", "search"))

	for _, ns := range []Namespace{prefixed, FlatNamespace{}} {
		uri := ns.ResourceURI("team/docs", "file:///a/b.md")
		assert.Equal(t, "federation:team%2Fdocs/file:///a/b.md", uri)
		id, native, ok := ns.ParseResourceURI(uri)
		require.True(t, ok, uri)
		assert.Equal(t, "team/docs", id)
		assert.Equal(t, "file:///a/b.md", native)
	}

	for _, bad := range []string{"file:///a", "federation:/x", "federation:alpha", "federation:alpha/"} {
		_, _, ok := prefixed.ParseResourceURI(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": ModeExecute, "EXECUTE": ModeExecute, " plan ": ModePlan, "hybrid": ModeHybrid} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("dry-run")
	assert.Error(t, err)
}
