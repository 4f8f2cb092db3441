package verdict

import (
	"fmt"
	"math"
	"strings"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"gonum.org/v1/gonum/stat"
)

// Signals are the per-source scores for one file, each in [0, 1]. The Has
// flags mark which sources produced a score; Tier 1 always does.
type Signals struct {
	Signature    float32
	HasSignature bool
	ML           float32
	HasML        bool
	Tier1        float32
	Tier2        float32
	HasTier2     bool
}

// Weights controls how signals are combined.
type Weights struct {
	Signature float32
	ML        float32
	// Behavioral is the weight of the behavioral blend when Tier 2 ran,
	// Tier1Only its discounted weight when it did not.
	Behavioral float32
	Tier1Only  float32
	// Tier1Blend and Tier2Blend split the behavioral score between tiers.
	Tier1Blend float32
	Tier2Blend float32
}

// Config holds the engine's weights and band thresholds.
type Config struct {
	Weights             Weights
	SuspiciousThreshold float32 // composite at or above this is at least Suspicious
	MaliciousThreshold  float32 // composite at or above this is Malicious
	// DisagreementGap forces Suspicious when signature and behavioral
	// scores differ by at least this much.
	DisagreementGap float32
}

// DefaultConfig returns the reference weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Signature:  0.40,
			ML:         0.35,
			Behavioral: 0.25,
			Tier1Only:  0.15,
			Tier1Blend: 0.35,
			Tier2Blend: 0.65,
		},
		SuspiciousThreshold: 0.30,
		MaliciousThreshold:  0.60,
		DisagreementGap:     0.5,
	}
}

// Engine scores signals into a verdict. It holds no mutable state, so the
// same Signals always produce the same Result.
type Engine struct {
	config Config
}

// New creates an engine.
func New(config Config) *Engine {
	return &Engine{config: config}
}

type signal struct {
	name   string
	value  float32
	weight float32
}

// Behavioral returns the tier blend fed into the composite.
func (e *Engine) Behavioral(s Signals) float32 {
	if !s.HasTier2 {
		return analysis.Clamp01(s.Tier1)
	}
	w := e.config.Weights
	return analysis.Clamp01(w.Tier1Blend*analysis.Clamp01(s.Tier1) + w.Tier2Blend*analysis.Clamp01(s.Tier2))
}

// Band maps a composite score to a verdict.
func (e *Engine) Band(score float32) analysis.Verdict {
	switch {
	case score >= e.config.MaliciousThreshold:
		return analysis.Malicious
	case score >= e.config.SuspiciousThreshold:
		return analysis.Suspicious
	default:
		return analysis.Benign
	}
}

// Score combines the available signals. Absent sources drop out and the
// remaining weights are renormalized.
func (e *Engine) Score(s Signals) analysis.Result {
	w := e.config.Weights
	behavioral := e.Behavioral(s)

	var signals []signal
	if s.HasSignature {
		signals = append(signals, signal{"signature scanner", analysis.Clamp01(s.Signature), w.Signature})
	}
	if s.HasML {
		signals = append(signals, signal{"ML classifier", analysis.Clamp01(s.ML), w.ML})
	}
	bw, bname := w.Tier1Only, "guest analysis"
	if s.HasTier2 {
		bw, bname = w.Behavioral, "sandbox behavior"
	}
	signals = append(signals, signal{bname, behavioral, bw})

	var sum, total float32
	for _, sg := range signals {
		sum += sg.value * sg.weight
		total += sg.weight
	}
	var composite float32
	if total > 0 {
		composite = analysis.Clamp01(sum / total)
	}

	verdict := e.Band(composite)
	confidence := e.confidence(signals)

	conflict := s.HasSignature && abs(s.Signature-behavioral) >= e.config.DisagreementGap
	if conflict {
		verdict = analysis.Suspicious
		confidence = min(confidence, 0.5)
	}

	return analysis.Result{
		Verdict:     verdict,
		Score:       composite,
		Confidence:  confidence,
		Explanation: e.explain(verdict, composite, signals, conflict),
	}
}

// confidence is high when signals agree and low when they spread.
func (e *Engine) confidence(signals []signal) float32 {
	values := make([]float64, len(signals))
	for i, sg := range signals {
		values[i] = float64(sg.value)
	}
	if len(values) < 2 {
		// a lone signal cannot corroborate itself
		return 0.6
	}

	n := float64(len(values))
	spread := math.Sqrt(stat.Variance(values, nil) * (n - 1) / n)
	c := float32(1 - math.Min(1, 2*spread))

	low, high := true, true
	for _, v := range values {
		low = low && v < float64(e.config.SuspiciousThreshold)/2
		high = high && v >= 0.9
	}
	if low || high {
		c = max(c, 0.9)
	}
	return analysis.Clamp01(c)
}

func (e *Engine) explain(v analysis.Verdict, score float32, signals []signal, conflict bool) string {
	primary := signals[0]
	for _, sg := range signals[1:] {
		if sg.value*sg.weight > primary.value*primary.weight {
			primary = sg
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (score %.2f): primary driver %s (%.2f)", v, score, primary.name, primary.value)
	if conflict {
		b.WriteString("; signature and behavioral signals conflict")
		return b.String()
	}
	agree := 0
	for _, sg := range signals {
		if e.Band(sg.value) == v {
			agree++
		}
	}
	if len(signals) > 1 {
		fmt.Fprintf(&b, "; %d of %d signals agree", agree, len(signals))
	}
	return b.String()
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Tier1Score condenses a guest result into one score: a weighted blend of
// its two heuristics plus a small bonus per detected pattern.
func Tier1Score(g analysis.GuestResult) float32 {
	bonus := min(0.15, 0.005*float32(g.DetectedPatternCount))
	return analysis.Clamp01(0.55*analysis.Clamp01(g.YaraLikeScore) + 0.45*analysis.Clamp01(g.MLLikeScore) + bonus)
}
