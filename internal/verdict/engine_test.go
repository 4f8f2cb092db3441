package verdict

import (
	"math/rand"
	"testing"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/stretchr/testify/assert"
)

func TestScoreBands(t *testing.T) {
	e := New(DefaultConfig())
	tests := []struct {
		name    string
		signals Signals
		verdict analysis.Verdict
		score   float32
	}{
		{"clean tier1 only", Signals{Tier1: 0.1}, analysis.Benign, 0.1},
		{"hot tier1 only", Signals{Tier1: 1}, analysis.Malicious, 1},
		{"suspicious", Signals{Tier1: 0.35}, analysis.Suspicious, 0.35},
		{"malicious", Signals{Tier1: 0.65}, analysis.Malicious, 0.65},
		{"renormalized without ml", Signals{Signature: 0.5, HasSignature: true, Tier1: 0.5}, analysis.Suspicious, 0.5},
		{"blend with tier2", Signals{Tier1: 0.5, Tier2: 0.32, HasTier2: true}, analysis.Suspicious, 0.35*0.5 + 0.65*0.32},
		{"clamped input", Signals{Tier1: 5}, analysis.Malicious, 1},
		{"negative input", Signals{Tier1: -1}, analysis.Benign, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Score(tt.signals)
			assert.Equal(t, tt.verdict, r.Verdict)
			assert.InDelta(t, tt.score, r.Score, 1e-5)
			assert.Contains(t, r.Explanation, "primary driver")
		})
	}
}

func TestBandEdges(t *testing.T) {
	e := New(DefaultConfig())
	assert.Equal(t, analysis.Benign, e.Band(0.2999))
	assert.Equal(t, analysis.Suspicious, e.Band(0.30))
	assert.Equal(t, analysis.Suspicious, e.Band(0.5999))
	assert.Equal(t, analysis.Malicious, e.Band(0.60))
}

func TestScoreFullWeighting(t *testing.T) {
	e := New(DefaultConfig())
	r := e.Score(Signals{
		Signature: 0.8, HasSignature: true,
		ML: 0.6, HasML: true,
		Tier1: 0.4, Tier2: 0.8, HasTier2: true,
	})
	behavioral := float32(0.35*0.4 + 0.65*0.8)
	want := (0.40*0.8 + 0.35*0.6 + 0.25*behavioral) / 1.0
	assert.InDelta(t, want, r.Score, 1e-5)
	assert.Equal(t, analysis.Malicious, r.Verdict)
}

func TestConfidenceAgreement(t *testing.T) {
	e := New(DefaultConfig())

	agree := e.Score(Signals{Signature: 0.95, HasSignature: true, ML: 0.92, HasML: true, Tier1: 0.9, Tier2: 0.95, HasTier2: true})
	assert.Equal(t, analysis.Malicious, agree.Verdict)
	assert.GreaterOrEqual(t, agree.Confidence, float32(0.9))
	assert.Contains(t, agree.Explanation, "3 of 3 signals agree")

	clean := e.Score(Signals{Signature: 0, HasSignature: true, ML: 0.05, HasML: true, Tier1: 0.1})
	assert.Equal(t, analysis.Benign, clean.Verdict)
	assert.GreaterOrEqual(t, clean.Confidence, float32(0.9))

	spread := e.Score(Signals{Signature: 0.3, HasSignature: true, ML: 0.9, HasML: true, Tier1: 0.5})
	assert.Less(t, spread.Confidence, agree.Confidence)

	lone := e.Score(Signals{Tier1: 0.05})
	assert.InDelta(t, 0.6, lone.Confidence, 1e-6)
}

func TestConflictForcesSuspicious(t *testing.T) {
	e := New(DefaultConfig())
	tests := []Signals{
		{Signature: 0.95, HasSignature: true, ML: 0.9, HasML: true, Tier1: 0.1},
		{Signature: 0.0, HasSignature: true, Tier1: 0.9, Tier2: 0.9, HasTier2: true},
	}
	for _, s := range tests {
		r := e.Score(s)
		assert.Equal(t, analysis.Suspicious, r.Verdict)
		assert.LessOrEqual(t, r.Confidence, float32(0.5))
		assert.Contains(t, r.Explanation, "conflict")
	}
}

func TestScoreDeterministic(t *testing.T) {
	e := New(DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		s := Signals{
			Signature: rng.Float32(), HasSignature: rng.Intn(2) == 0,
			ML: rng.Float32(), HasML: rng.Intn(2) == 0,
			Tier1: rng.Float32(),
			Tier2: rng.Float32(), HasTier2: rng.Intn(2) == 0,
		}
		first := e.Score(s)
		second := New(DefaultConfig()).Score(s)
		assert.Equal(t, first, e.Score(s))
		assert.Equal(t, first, second)

		assert.GreaterOrEqual(t, first.Score, float32(0))
		assert.LessOrEqual(t, first.Score, float32(1))
		assert.GreaterOrEqual(t, first.Confidence, float32(0))
		assert.LessOrEqual(t, first.Confidence, float32(1))
	}
}

func TestTier1Score(t *testing.T) {
	tests := []struct {
		name string
		g    analysis.GuestResult
		want float32
	}{
		{"empty fallback", analysis.GuestResult{MLLikeScore: 0.25}, 0.45 * 0.25},
		{"pattern bonus", analysis.GuestResult{YaraLikeScore: 0.5, MLLikeScore: 0.5, DetectedPatternCount: 10}, 0.55},
		{"bonus capped", analysis.GuestResult{YaraLikeScore: 0.5, MLLikeScore: 0.5, DetectedPatternCount: 1000}, 0.65},
		{"saturated", analysis.GuestResult{YaraLikeScore: 0.85, MLLikeScore: 0.85, DetectedPatternCount: 50}, 1},
		{"out of range inputs", analysis.GuestResult{YaraLikeScore: 9, MLLikeScore: -3}, 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Tier1Score(tt.g), 1e-5)
		})
	}
}
