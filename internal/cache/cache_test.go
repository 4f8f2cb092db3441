package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *analysis.Result {
	return &analysis.Result{
		Verdict:   analysis.Malicious,
		Score:     0.9,
		Behaviors: []string{"HIGH: dropped 2 executable files"},
		Tier1:     &analysis.GuestResult{YaraLikeScore: 0.8, TriggeredRules: []string{"r"}},
		Tier2:     &analysis.BehavioralMetrics{ThreatScore: 0.7, Behaviors: []string{"b"}},
	}
}

func TestMemoryStoreLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4, time.Hour)

	_, hit, err := m.Lookup(ctx, "sha256:aa")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, m.Store(ctx, "sha256:aa", sampleResult()))
	got, hit, err := m.Lookup(ctx, "sha256:aa")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, sampleResult(), got)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4, time.Hour)
	orig := sampleResult()
	require.NoError(t, m.Store(ctx, "k", orig))

	orig.Behaviors[0] = "mutated"
	orig.Tier1.TriggeredRules[0] = "mutated"

	got, _, _ := m.Lookup(ctx, "k")
	got.Tier2.Behaviors[0] = "mutated"
	got.Score = 0

	again, _, _ := m.Lookup(ctx, "k")
	assert.Equal(t, sampleResult(), again)
}

func TestMemoryEvictionAndTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, time.Hour)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Store(ctx, k, sampleResult()))
	}
	_, hit, _ := m.Lookup(ctx, "a")
	assert.False(t, hit, "least recently used entry evicted")

	short := NewMemory(2, 20*time.Millisecond)
	require.NoError(t, short.Store(ctx, "x", sampleResult()))
	assert.Eventually(t, func() bool {
		_, hit, _ := short.Lookup(ctx, "x")
		return !hit
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory(0, 0)
	assert.ErrorIs(t, m.Store(ctx, "k", sampleResult()), context.Canceled)
	_, _, err := m.Lookup(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

type brokenCache struct{ calls int }

var errBackend = errors.New("backend down")

func (b *brokenCache) Lookup(context.Context, string) (*analysis.Result, bool, error) {
	b.calls++
	return nil, false, errBackend
}

func (b *brokenCache) Store(context.Context, string, *analysis.Result) error {
	b.calls++
	return errBackend
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	inner := &brokenCache{}
	g := NewGuarded(inner, 3, time.Minute, nil)

	for i := 0; i < 3; i++ {
		_, _, err := g.Lookup(ctx, "k")
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, resilience.StateOpen, g.State())

	_, _, err := g.Lookup(ctx, "k")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, g.Store(ctx, "k", sampleResult()), resilience.ErrCircuitOpen)
	assert.Equal(t, 3, inner.calls, "open breaker does not reach the backend")
}

func TestGuardedPassesThrough(t *testing.T) {
	ctx := context.Background()
	g := NewGuarded(NewMemory(8, time.Hour), 0, 0, nil)
	require.NoError(t, g.Store(ctx, "k", sampleResult()))
	got, hit, err := g.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, analysis.Malicious, got.Verdict)
	assert.Equal(t, resilience.StateClosed, g.State())
}

func TestGuardedIgnoresCallerCancellation(t *testing.T) {
	g := NewGuarded(NewMemory(8, time.Hour), 2, time.Minute, nil)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()

	for i := 0; i < 5; i++ {
		_, _, err := g.Lookup(canceled, "k")
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, g.Store(expired, "k", sampleResult()), context.DeadlineExceeded)
	}
	assert.Equal(t, resilience.StateClosed, g.State())

	require.NoError(t, g.Store(context.Background(), "k", sampleResult()))
	_, hit, err := g.Lookup(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, hit)
}
