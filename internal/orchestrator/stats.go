package orchestrator

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
)

// Statistics is a snapshot of the orchestrator's rolling counters.
type Statistics struct {
	TotalAnalyzed      uint64        `json:"total_analyzed"`
	BenignDetected     uint64        `json:"benign_detected"`
	SuspiciousDetected uint64        `json:"suspicious_detected"`
	MaliciousDetected  uint64        `json:"malicious_detected"`
	Failures           uint64        `json:"failures"`
	CacheHits          uint64        `json:"cache_hits"`
	CacheErrors        uint64        `json:"cache_errors"`
	Quarantined        uint64        `json:"quarantined"`
	Tier1Executions    uint64        `json:"tier1_executions"`
	Tier2Executions    uint64        `json:"tier2_executions"`
	Tier1Fallbacks     uint64        `json:"tier1_fallbacks"`
	Tier1Timeouts      uint64        `json:"tier1_timeouts"`
	Tier2Timeouts      uint64        `json:"tier2_timeouts"`
	Tier2Degraded      uint64        `json:"tier2_degraded"`
	AverageTier1Time   time.Duration `json:"average_tier1_time"`
	AverageTier2Time   time.Duration `json:"average_tier2_time"`
	AverageTotalTime   time.Duration `json:"average_total_time"`
}

// counters are best effort: they feed observability only and nothing
// reads them for a decision.
type counters struct {
	mu sync.Mutex
	s  Statistics
}

func runningMean(avg time.Duration, n uint64, sample time.Duration) time.Duration {
	return avg + (sample-avg)/time.Duration(n)
}

func (c *counters) tier1(g analysis.GuestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Tier1Executions++
	if g.Fallback {
		c.s.Tier1Fallbacks++
	}
	if g.TimedOut {
		c.s.Tier1Timeouts++
	}
	c.s.AverageTier1Time = runningMean(c.s.AverageTier1Time, c.s.Tier1Executions, g.Elapsed)
}

func (c *counters) tier2(m analysis.BehavioralMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Tier2Executions++
	if m.TimedOut {
		c.s.Tier2Timeouts++
	}
	if m.Degraded {
		c.s.Tier2Degraded++
	}
	c.s.AverageTier2Time = runningMean(c.s.AverageTier2Time, c.s.Tier2Executions, m.ExecutionTime)
}

func (c *counters) result(r *analysis.Result, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.TotalAnalyzed++
	switch r.Verdict {
	case analysis.Benign:
		c.s.BenignDetected++
	case analysis.Suspicious:
		c.s.SuspiciousDetected++
	case analysis.Malicious:
		c.s.MaliciousDetected++
	}
	if failed {
		c.s.Failures++
	}
	if r.Cached {
		c.s.CacheHits++
	}
	c.s.AverageTotalTime = runningMean(c.s.AverageTotalTime, c.s.TotalAnalyzed, r.Duration)
}

func (c *counters) cacheError() {
	c.mu.Lock()
	c.s.CacheErrors++
	c.mu.Unlock()
}

func (c *counters) quarantined() {
	c.mu.Lock()
	c.s.Quarantined++
	c.mu.Unlock()
}

func (c *counters) snapshot() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
