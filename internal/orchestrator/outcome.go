package orchestrator

import (
	"github.com/GriffinCanCode/sentinel/internal/analysis"
)

// OutcomeKind tags how a tier finished.
type OutcomeKind int

const (
	// Completed means the tier produced a trustworthy result.
	Completed OutcomeKind = iota
	// Degraded means the tier produced a conservative result after a
	// fallback, timeout or launch failure.
	Degraded
	// Escalate means Tier 1 could not decide and Tier 2 must run.
	Escalate
)

// String returns the string representation of the kind
func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Degraded:
		return "degraded"
	case Escalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// TierOutcome is the result of one tier run. Exactly one of Guest and
// Behavior is set. Reason is filled for Degraded and Escalate.
type TierOutcome struct {
	Kind     OutcomeKind
	Score    float32
	Reason   string
	Guest    *analysis.GuestResult
	Behavior *analysis.BehavioralMetrics
}

// tier1Outcome classifies a guest result. A result is decisive when it
// did not time out and its score lies outside [clean, malicious).
func tier1Outcome(g analysis.GuestResult, score, clean, malicious float32) TierOutcome {
	out := TierOutcome{Score: score, Guest: &g}
	switch {
	case g.TimedOut:
		out.Kind, out.Reason = Escalate, "guest analysis timed out"
	case score >= clean && score < malicious:
		out.Kind, out.Reason = Escalate, "guest score inconclusive"
	case g.Fallback:
		out.Kind, out.Reason = Degraded, g.FallbackReason
	default:
		out.Kind = Completed
	}
	return out
}

func tier2Outcome(m analysis.BehavioralMetrics) TierOutcome {
	out := TierOutcome{Kind: Completed, Score: m.ThreatScore, Behavior: &m}
	if m.Degraded {
		out.Kind, out.Reason = Degraded, m.Reason
	}
	return out
}
