package cache

import (
	"context"
	"slices"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default sizing for the in-process cache.
const (
	DefaultSize = 10_000
	DefaultTTL  = 30 * 24 * time.Hour
)

// Memory is an in-process verdict cache with LRU eviction and a per-entry
// TTL. It stores and returns copies, so callers may mutate what they get.
type Memory struct {
	lru *expirable.LRU[string, analysis.Result]
}

// NewMemory creates a cache holding at most size verdicts for ttl each.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, analysis.Result](size, nil, ttl)}
}

// Lookup implements analysis.VerdictCache.
func (m *Memory) Lookup(ctx context.Context, key string) (*analysis.Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	out := clone(r)
	return &out, true, nil
}

// Store implements analysis.VerdictCache.
func (m *Memory) Store(ctx context.Context, key string, result *analysis.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	m.lru.Add(key, clone(*result))
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Purge drops every entry.
func (m *Memory) Purge() {
	m.lru.Purge()
}

func clone(r analysis.Result) analysis.Result {
	r.Behaviors = slices.Clone(r.Behaviors)
	if r.Tier1 != nil {
		t1 := *r.Tier1
		t1.TriggeredRules = slices.Clone(t1.TriggeredRules)
		t1.Observations = slices.Clone(t1.Observations)
		r.Tier1 = &t1
	}
	if r.Tier2 != nil {
		t2 := *r.Tier2
		t2.Behaviors = slices.Clone(t2.Behaviors)
		r.Tier2 = &t2
	}
	return r
}
