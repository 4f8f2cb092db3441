package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/sandbox/tracer"
	"github.com/GriffinCanCode/sentinel/internal/shared/filetype"
	"go.uber.org/zap"
)

// reapGrace is added to the sample timeout for the launcher's context, so
// the tracer's own deadline always fires first.
const reapGrace = 2 * time.Second

// Statistics tracks analyzer activity.
type Statistics struct {
	TotalRuns            uint64        `json:"total_runs"`
	LaunchFailures       uint64        `json:"launch_failures"`
	Timeouts             uint64        `json:"timeouts"`
	Degraded             uint64        `json:"degraded"`
	BoundaryViolations   uint64        `json:"boundary_violations"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
}

// Analyzer is the Tier 2 native sandbox. It is safe for concurrent use;
// each call gets its own scratch directory and sandbox.
type Analyzer struct {
	config Config
	policy *Policy
	runner Runner
	logger *zap.Logger

	mu    sync.Mutex
	stats Statistics
}

// NewAnalyzer creates an analyzer. A nil runner selects the namespaced
// Launcher. The policy file, when configured, must parse and validate.
func NewAnalyzer(config Config, runner Runner, logger *zap.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := DefaultPolicy()
	if config.PolicyFile != "" {
		p, err := LoadPolicy(config.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	if runner == nil {
		runner = NewLauncher(config, logger)
	}
	return &Analyzer{
		config: config,
		policy: policy,
		runner: runner,
		logger: logger,
	}, nil
}

// Enabled reports whether Tier 2 is configured to run.
func (a *Analyzer) Enabled() bool {
	return a.config.Enabled
}

// Policy returns the syscall policy applied to samples.
func (a *Analyzer) Policy() *Policy {
	return a.policy
}

// Analyze runs data in the sandbox and scores what it did. It never
// fails; anything that prevents observation yields a degraded result with
// the configured launch failure score.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, filename string, timeout time.Duration) analysis.BehavioralMetrics {
	if timeout <= 0 {
		timeout = a.config.Timeout
	}
	start := time.Now()
	m := a.analyze(ctx, data, filename, timeout)
	if m.ExecutionTime == 0 {
		m.ExecutionTime = time.Since(start)
	}
	a.record(m)
	return m
}

func (a *Analyzer) analyze(ctx context.Context, data []byte, filename string, timeout time.Duration) analysis.BehavioralMetrics {
	if !a.config.Enabled {
		return a.unobserved(ErrDisabled.Error())
	}
	info := filetype.Detect(data)
	if !info.Runnable() {
		return a.unobserved(fmt.Sprintf("format %s (%s) is not executable", info.Kind, info.MIME))
	}

	scratch, err := os.MkdirTemp(a.config.ScratchDir, "sentinel-")
	if err != nil {
		return a.unobserved(fmt.Sprintf("scratch dir: %v", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			a.logger.Warn("Failed to remove scratch dir", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	sample := sampleName(filename)
	work := filepath.Join(scratch, "work")
	if err := os.Mkdir(work, 0o755); err != nil {
		return a.unobserved(fmt.Sprintf("scratch dir: %v", err))
	}
	if err := os.WriteFile(filepath.Join(work, sample), data, 0o755); err != nil {
		return a.unobserved(fmt.Sprintf("write sample: %v", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout+reapGrace)
	defer cancel()
	trace, err := a.runner.Run(runCtx, RunSpec{
		ScratchDir: scratch,
		Sample:     sample,
		Timeout:    timeout,
		Limits:     a.config.Limits,
		Policy:     a.policy,
		ReadOnly:   a.config.ReadOnlyBinds,
	})
	if err != nil {
		a.logger.Warn("Sandbox run failed", zap.String("filename", filename), zap.Error(err))
		return a.unobserved(err.Error())
	}
	return a.score(trace, filename, info)
}

// score folds a trace into metrics and applies the timeout and
// degradation floors.
func (a *Analyzer) score(trace *tracer.Trace, filename string, info filetype.Info) analysis.BehavioralMetrics {
	m := aggregate(trace.Events, a.policy, trace.Duration)
	m.TimedOut = trace.TimedOut
	m.ExitCode = trace.ExitCode
	m.SubScores = subScores(m)
	m.ThreatScore = threatScore(m.SubScores)

	if m.TimedOut {
		m.ThreatScore = max(m.ThreatScore, analysis.Clamp01(a.config.TimeoutFloor))
	}
	switch {
	case trace.BoundaryViolations > 0:
		a.logger.Error("Tracee memory boundary violation",
			zap.Bool("security_event", true),
			zap.String("boundary", "tracee_string"),
			zap.String("filename", filename),
			zap.Int("count", trace.BoundaryViolations))
		a.mu.Lock()
		a.stats.BoundaryViolations += uint64(trace.BoundaryViolations)
		a.mu.Unlock()
		m.Degraded = true
		m.Reason = fmt.Sprintf("%d unreadable tracee buffers", trace.BoundaryViolations)
		m.ThreatScore = max(m.ThreatScore, analysis.Clamp01(a.config.LaunchFailureScore))
	case !trace.Started && !trace.TimedOut:
		m.Degraded = true
		m.Reason = "sample exited before it was observed"
		m.ThreatScore = max(m.ThreatScore, analysis.Clamp01(a.config.LaunchFailureScore))
	case info.Compat && len(trace.Events) == 0:
		m.Degraded = true
		m.Reason = "32-bit sample produced no observable syscalls"
		m.ThreatScore = max(m.ThreatScore, analysis.Clamp01(a.config.LaunchFailureScore))
	}
	m.Behaviors = behaviors(m)

	a.logger.Debug("Sandbox run scored",
		zap.String("filename", filename),
		zap.Int("events", len(trace.Events)),
		zap.Int("dropped_exits", trace.DroppedExits),
		zap.Bool("timed_out", m.TimedOut),
		zap.Float32("threat_score", m.ThreatScore))
	return m
}

// unobserved is the result for a sample that could not be watched:
// it cannot be cleared, so it scores mid-range.
func (a *Analyzer) unobserved(reason string) analysis.BehavioralMetrics {
	return analysis.BehavioralMetrics{
		ThreatScore: analysis.Clamp01(a.config.LaunchFailureScore),
		Degraded:    true,
		Reason:      reason,
		ExitCode:    -1,
	}
}

func (a *Analyzer) record(m analysis.BehavioralMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := &a.stats
	s.TotalRuns++
	if m.TimedOut {
		s.Timeouts++
	}
	if m.Degraded {
		s.Degraded++
		if m.ExitCode == -1 {
			s.LaunchFailures++
		}
	}
	n := time.Duration(s.TotalRuns)
	s.AverageExecutionTime += (m.ExecutionTime - s.AverageExecutionTime) / n
}

// Stats returns a snapshot of analyzer statistics.
func (a *Analyzer) Stats() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// sampleName derives a safe file name inside the scratch dir.
func sampleName(filename string) string {
	base := filepath.Base(filename)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		return "sample"
	}
	if len(name) > 128 {
		name = name[:128]
	}
	return name
}
