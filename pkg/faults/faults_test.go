package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelOfSameKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("sync alpha: %w", Timeout("alpha", "tools/list", 50*time.Millisecond))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrConnection))
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestCircuitOpenCarriesRemaining(t *testing.T) {
	t.Parallel()

	err := CircuitOpen("bravo", 1500*time.Millisecond)
	require.Equal(t, KindCircuitOpen, err.Kind)
	assert.Equal(t, 1500*time.Millisecond, err.RetryAfter)
	assert.Contains(t, err.Error(), "bravo")
	assert.Contains(t, err.Error(), "1.5s")
}

func TestConnectionUnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := Connection("alpha", "connect", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "federation connect [alpha]: connection: dial tcp: refused", err.Error())
}

func TestValidationKeepsDetails(t *testing.T) {
	t.Parallel()

	err := Validation("search", []string{"missing query", "bad limit"})
	assert.Equal(t, []string{"missing query", "bad limit"}, err.Details)
	assert.Contains(t, err.Error(), "missing query; bad limit")
}
