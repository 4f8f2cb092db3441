package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/cache"
	"github.com/GriffinCanCode/sentinel/internal/sandbox/native"
	"github.com/GriffinCanCode/sentinel/internal/sandbox/tracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedRunner stands in for the namespaced launcher and replays a trace.
type cannedRunner struct {
	trace *tracer.Trace
	calls int
}

func (c *cannedRunner) Run(context.Context, native.RunSpec) (*tracer.Trace, error) {
	c.calls++
	return c.trace, nil
}

var elfBinary = append([]byte("\x7fELF\x02\x01\x01"), make([]byte, 57)...)

func traced(name string, ret int64, args ...uint64) analysis.SyscallEvent {
	ev := analysis.SyscallEvent{Name: name, Category: tracer.Classify(name), Return: ret}
	copy(ev.Args[:], args)
	return ev
}

func ransomwareTrace() *tracer.Trace {
	const createForWrite = 0x41 // O_WRONLY|O_CREAT
	var events []analysis.SyscallEvent
	for i := 0; i < 150; i++ {
		events = append(events, traced("openat", 3, 0, 0, createForWrite, 0o644))
		w := traced("write", 4096, 3, 0, 4096)
		w.Entropy = 7.95
		events = append(events, w)
	}
	return &tracer.Trace{Events: events, Started: true, Duration: 8 * time.Second}
}

func newScenario(t *testing.T, guest analysis.GuestResult, trace *tracer.Trace, deps Deps) (*Orchestrator, *cannedRunner) {
	t.Helper()
	cfg := native.DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	runner := &cannedRunner{trace: trace}
	tier2, err := native.NewAnalyzer(cfg, runner, nil)
	require.NoError(t, err)
	return New(DefaultConfig(), &fakeTier1{result: guest}, tier2, deps), runner
}

func TestScenarioRansomwareEscalation(t *testing.T) {
	o, runner := newScenario(t, inconclusive, ransomwareTrace(), Deps{})

	res := o.AnalyzeFile(context.Background(), elfBinary, "invoice.bin")
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, analysis.EscalatedToTier2.String(), res.State)
	assert.Contains(t, []analysis.Verdict{analysis.Suspicious, analysis.Malicious}, res.Verdict)
	assert.GreaterOrEqual(t, res.Score, DefaultConfig().Verdict.SuspiciousThreshold)
	require.NotNil(t, res.Tier2)
	assert.Equal(t, uint32(150), res.Tier2.HighEntropyWrites)
	assert.False(t, res.Tier2.Degraded)
	assert.NotEmpty(t, res.Behaviors)
	assert.Contains(t, res.Behaviors[0], "ransomware")
}

func TestScenarioTimeoutFloor(t *testing.T) {
	guest := analysis.GuestResult{YaraLikeScore: 0.1, MLLikeScore: 0.1, TimedOut: true}
	trace := &tracer.Trace{
		Events:   []analysis.SyscallEvent{traced("nanosleep", 0)},
		Started:  true,
		TimedOut: true,
		Signaled: true,
		ExitCode: 137,
		Duration: 5 * time.Second,
	}
	o, runner := newScenario(t, guest, trace, Deps{Cache: cache.NewMemory(8, time.Hour)})

	res := o.AnalyzeFile(context.Background(), elfBinary, "sleeper")
	assert.Equal(t, 1, runner.calls)
	require.NotNil(t, res.Tier2)
	assert.True(t, res.Tier2.TimedOut)
	assert.GreaterOrEqual(t, res.Tier2.ThreatScore, native.DefaultConfig().TimeoutFloor)
	assert.Equal(t, analysis.Suspicious, res.Verdict)

	stats := o.Stats()
	assert.Equal(t, uint64(1), stats.Tier1Timeouts)
	assert.Equal(t, uint64(1), stats.Tier2Timeouts)

	again := o.AnalyzeFile(context.Background(), elfBinary, "sleeper")
	assert.True(t, again.Cached, "a timed-out run is a complete observation")
}

func TestScenarioLaunchFailureIsNotCached(t *testing.T) {
	o, runner := newScenario(t, inconclusive, &tracer.Trace{ExitCode: 125}, Deps{Cache: cache.NewMemory(8, time.Hour)})

	first := o.AnalyzeFile(context.Background(), elfBinary, "x")
	second := o.AnalyzeFile(context.Background(), elfBinary, "x")
	require.NotNil(t, first.Tier2)
	assert.True(t, first.Tier2.Degraded)
	assert.False(t, second.Cached)
	assert.Equal(t, 2, runner.calls)
}
