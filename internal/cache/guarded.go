package cache

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// lookup carries both return values through the breaker.
type lookup struct {
	result *analysis.Result
	hit    bool
}

// Guarded wraps a VerdictCache in a circuit breaker. While the breaker is
// open every call fails fast with resilience.ErrCircuitOpen.
type Guarded struct {
	inner   analysis.VerdictCache
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// NewGuarded creates a guarded cache that opens after threshold
// consecutive failures and retries after cooldown.
func NewGuarded(inner analysis.VerdictCache, threshold uint32, cooldown time.Duration, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold == 0 {
		threshold = 5
	}
	g := &Guarded{inner: inner, logger: logger}
	g.breaker = resilience.New("verdict-cache", resilience.Settings{
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= threshold },
		IsFailure:   isBackendFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			g.logger.Warn("Cache circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

// isBackendFailure reports whether err reflects the cache backend rather
// than the caller giving up.
func isBackendFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Lookup implements analysis.VerdictCache.
func (g *Guarded) Lookup(ctx context.Context, key string) (*analysis.Result, bool, error) {
	l, err := resilience.Do(g.breaker, func() (lookup, error) {
		r, hit, err := g.inner.Lookup(ctx, key)
		return lookup{r, hit}, err
	})
	return l.result, l.hit, err
}

// Store implements analysis.VerdictCache.
func (g *Guarded) Store(ctx context.Context, key string, result *analysis.Result) error {
	return g.breaker.Call(func() error {
		return g.inner.Store(ctx, key, result)
	})
}

// State returns the breaker position.
func (g *Guarded) State() resilience.State {
	return g.breaker.State()
}
