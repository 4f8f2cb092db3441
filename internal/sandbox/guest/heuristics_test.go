package guest

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackEmpty(t *testing.T) {
	res := fallbackAnalysis(nil, "no module")

	assert.True(t, res.Fallback)
	assert.Equal(t, "no module", res.FallbackReason)
	assert.Zero(t, res.YaraLikeScore)
	assert.InDelta(t, 0.25, res.MLLikeScore, 1e-6)
	assert.Empty(t, res.TriggeredRules)
}

func TestFallbackTokens(t *testing.T) {
	res := fallbackAnalysis([]byte("powershell -c cmd.exe http://evil.example"), "x")

	// shell, cmd, http, powershell, cmdexe
	assert.InDelta(t, 0.5, res.YaraLikeScore, 1e-6)
	assert.Contains(t, res.Observations, "embedded URL")
}

func TestFallbackHighEntropy(t *testing.T) {
	data := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(data)

	res := fallbackAnalysis(data, "x")
	assert.InDelta(t, 0.75, res.MLLikeScore, 1e-6)
	assert.NotEmpty(t, res.TriggeredRules)
}

func TestFallbackHeaders(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pe", append([]byte("MZ"), bytes.Repeat([]byte{0}, 64)...), "PE executable header"},
		{"elf", append([]byte("\x7fELF"), bytes.Repeat([]byte{1}, 64)...), "ELF executable header"},
		{"script", []byte("#!/bin/sh\n"), "script interpreter line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, fallbackAnalysis(tt.data, "x").Observations, tt.want)
		})
	}
}

func TestFallbackScoresBounded(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		data := make([]byte, r.Intn(20_000))
		r.Read(data)
		res := fallbackAnalysis(data, "x")
		assert.GreaterOrEqual(t, res.YaraLikeScore, float32(0))
		assert.LessOrEqual(t, res.YaraLikeScore, float32(1))
		assert.GreaterOrEqual(t, res.MLLikeScore, float32(0))
		assert.LessOrEqual(t, res.MLLikeScore, float32(1))
	}
}
