package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/sentinel/internal/shared/hash"
	"github.com/GriffinCanCode/sentinel/internal/shared/id"
	"github.com/GriffinCanCode/sentinel/internal/verdict"
	"go.uber.org/zap"
)

// Tier1 is the guest runtime executor.
type Tier1 interface {
	Execute(ctx context.Context, data []byte, filename string) analysis.GuestResult
}

// Tier2 is the native sandbox analyzer.
type Tier2 interface {
	Enabled() bool
	Analyze(ctx context.Context, data []byte, filename string, timeout time.Duration) analysis.BehavioralMetrics
}

var ErrTooLarge = errors.New("file exceeds maximum analysis size")

// Config holds the escalation thresholds and the conservative scores used
// when analysis cannot complete.
type Config struct {
	// Tier 1 scores below CleanThreshold or at or above MaliciousThreshold
	// resolve without Tier 2.
	CleanThreshold     float32
	MaliciousThreshold float32
	// FailedScore and FailedConfidence describe a Failed analysis.
	FailedScore      float32
	FailedConfidence float32
	// DegradedConfidence caps confidence when any tier degraded.
	DegradedConfidence float32
	Tier2Timeout       time.Duration // zero uses the analyzer's own default
	MaxFileSize        int64         // zero disables the check
	Verdict            verdict.Config
}

// DefaultConfig returns the reference orchestration settings.
func DefaultConfig() Config {
	return Config{
		CleanThreshold:     0.30,
		MaliciousThreshold: 0.70,
		FailedScore:        0.45,
		FailedConfidence:   0.3,
		DegradedConfidence: 0.7,
		MaxFileSize:        256 << 20,
		Verdict:            verdict.DefaultConfig(),
	}
}

// Deps are the optional collaborators. Any of them may be nil.
type Deps struct {
	Scanner    analysis.SignatureScanner
	Classifier analysis.MLClassifier
	Cache      analysis.VerdictCache
	Quarantine analysis.Quarantine
	Hasher     *hash.Hasher
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Orchestrator routes a file through the tiers and always returns a
// verdict. Requests are independent and may run concurrently.
type Orchestrator struct {
	config Config
	tier1  Tier1
	tier2  Tier2
	engine *verdict.Engine
	deps   Deps
	logger *zap.Logger
	stats  counters
}

// New creates an orchestrator. tier2 may be nil, in which case undecided
// files resolve from Tier 1 alone with reduced confidence.
func New(config Config, tier1 Tier1, tier2 Tier2, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hasher == nil {
		deps.Hasher = hash.Default()
	}
	return &Orchestrator{
		config: config,
		tier1:  tier1,
		tier2:  tier2,
		engine: verdict.New(config.Verdict),
		deps:   deps,
		logger: deps.Logger,
	}
}

// AnalyzeFile analyzes one file with the default timeout.
func (o *Orchestrator) AnalyzeFile(ctx context.Context, data []byte, filename string) *analysis.Result {
	return o.Analyze(ctx, analysis.Request{Data: data, Filename: filename})
}

// run carries one request's state through the pipeline.
type run struct {
	req      analysis.Request
	key      string
	state    analysis.TierState
	tier1    TierOutcome
	tier2    *TierOutcome
	signals  verdict.Signals
	degraded []string
	// transient marks a degradation that a later retry may not repeat.
	transient bool
}

// Analyze runs the full pipeline. The returned result is never nil and is
// owned by the caller. Once started, an analysis is bounded only by the
// configured tier deadlines: a caller that goes away does not turn the
// outcome into a failure.
func (o *Orchestrator) Analyze(ctx context.Context, req analysis.Request) (res *analysis.Result) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)
	if req.ID == "" {
		req.ID = id.NewAnalysisID().String()
	}
	log := o.logger.With(zap.String("analysis_id", req.ID), zap.String("filename", req.Filename))

	failed := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("Analysis panicked", zap.Any("panic", r))
			res, failed = o.failed(req, fmt.Sprintf("internal error: %v", r)), true
		}
		res.ID = req.ID
		res.Duration = time.Since(start)
		if res.AnalyzedAt.IsZero() {
			res.AnalyzedAt = start
		}
		o.stats.result(res, failed)
		o.deps.Metrics.RecordAnalysis(res.Verdict.String(), res.State, res.Cached, res.Duration)
	}()

	if o.config.MaxFileSize > 0 && int64(len(req.Data)) > o.config.MaxFileSize {
		failed = true
		return o.failed(req, fmt.Sprintf("%v: %d bytes", ErrTooLarge, len(req.Data)))
	}

	r := &run{req: req, key: o.deps.Hasher.Key(req.Data), state: analysis.Tier1Only}

	if cached, err := o.lookup(ctx, r.key); err != nil {
		log.Error("Verdict cache lookup failed", zap.String("key", hash.Short(r.key)), zap.Error(err))
		failed = true
		return o.failed(req, fmt.Sprintf("cache lookup: %v", err))
	} else if cached != nil {
		log.Debug("Verdict served from cache", zap.String("verdict", cached.Verdict.String()))
		return cached
	}

	o.external(ctx, r, log)
	o.runTier1(ctx, r, log)
	if r.tier1.Kind == Escalate {
		r.state = analysis.EscalatedToTier2
		o.runTier2(ctx, r, log)
	}

	res = o.resolve(r)
	if !r.transient {
		o.store(ctx, r.key, res, log)
	}
	o.quarantine(ctx, r, res, log)

	log.Info("Analysis complete",
		zap.String("verdict", res.Verdict.String()),
		zap.Float32("score", res.Score),
		zap.Float32("confidence", res.Confidence),
		zap.String("state", res.State))
	return res
}

// lookup consults the cache. An open breaker is not an error: the
// analysis proceeds uncached.
func (o *Orchestrator) lookup(ctx context.Context, key string) (*analysis.Result, error) {
	if o.deps.Cache == nil {
		return nil, nil
	}
	cached, hit, err := o.deps.Cache.Lookup(ctx, key)
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		o.deps.Metrics.RecordCacheLookup("bypass")
		return nil, nil
	case err != nil:
		o.stats.cacheError()
		o.deps.Metrics.RecordCacheLookup("error")
		return nil, err
	case !hit || cached == nil:
		o.deps.Metrics.RecordCacheLookup("miss")
		return nil, nil
	}
	o.deps.Metrics.RecordCacheLookup("hit")
	cached.Cached = true
	return cached, nil
}

// external queries the signature scanner and ML classifier. A failing
// collaborator drops out of the composite.
func (o *Orchestrator) external(ctx context.Context, r *run, log *zap.Logger) {
	if o.deps.Scanner != nil {
		if m, err := o.deps.Scanner.Scan(r.req.Data); err != nil {
			log.Warn("Signature scan failed", zap.Error(err))
		} else {
			r.signals.Signature, r.signals.HasSignature = analysis.Clamp01(m.Score), true
		}
	}
	if o.deps.Classifier != nil {
		if p, err := o.deps.Classifier.Predict(r.req.Data); err != nil {
			log.Warn("ML classification failed", zap.Error(err))
		} else {
			r.signals.ML, r.signals.HasML = analysis.Clamp01(p), true
		}
	}
}

func (o *Orchestrator) runTier1(ctx context.Context, r *run, log *zap.Logger) {
	if r.req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.req.Timeout)
		defer cancel()
	}
	g := o.tier1.Execute(ctx, r.req.Data, r.req.Filename)
	score := verdict.Tier1Score(g)
	r.tier1 = tier1Outcome(g, score, o.config.CleanThreshold, o.config.MaliciousThreshold)
	r.signals.Tier1 = score

	o.stats.tier1(g)
	o.deps.Metrics.RecordTier("tier1", r.tier1.Kind.String(), g.Elapsed, g.TimedOut)
	if g.BoundaryViolation != "" {
		o.deps.Metrics.RecordBoundaryViolation(g.BoundaryViolation)
	}
	if g.Fallback {
		r.degraded = append(r.degraded, "tier1: "+g.FallbackReason)
	}
	log.Debug("Tier 1 finished",
		zap.Float32("score", score),
		zap.String("outcome", r.tier1.Kind.String()),
		zap.Bool("fallback", g.Fallback),
		zap.Bool("timed_out", g.TimedOut))
}

func (o *Orchestrator) runTier2(ctx context.Context, r *run, log *zap.Logger) {
	if o.tier2 == nil || !o.tier2.Enabled() {
		r.degraded = append(r.degraded, "tier2 unavailable")
		r.transient = true
		log.Debug("Escalation requested but Tier 2 is unavailable", zap.String("reason", r.tier1.Reason))
		return
	}
	timeout := r.req.Timeout
	if timeout <= 0 {
		timeout = o.config.Tier2Timeout
	}
	m := o.tier2.Analyze(ctx, r.req.Data, r.req.Filename, timeout)
	out := tier2Outcome(m)
	r.tier2 = &out
	r.signals.Tier2, r.signals.HasTier2 = m.ThreatScore, true

	o.stats.tier2(m)
	o.deps.Metrics.RecordTier("tier2", out.Kind.String(), m.ExecutionTime, m.TimedOut)
	if out.Kind == Degraded {
		r.degraded = append(r.degraded, "tier2: "+out.Reason)
		r.transient = true
	}
	log.Debug("Tier 2 finished",
		zap.Float32("threat_score", m.ThreatScore),
		zap.String("outcome", out.Kind.String()),
		zap.Bool("timed_out", m.TimedOut))
}

// resolve scores the collected signals into the final result.
func (o *Orchestrator) resolve(r *run) *analysis.Result {
	res := o.engine.Score(r.signals)
	res.State = r.state.String()
	res.Tier1 = r.tier1.Guest

	var behaviors []string
	if r.tier2 != nil {
		res.Tier2 = r.tier2.Behavior
		behaviors = append(behaviors, r.tier2.Behavior.Behaviors...)
	}
	behaviors = append(behaviors, r.tier1.Guest.TriggeredRules...)
	behaviors = append(behaviors, r.tier1.Guest.Observations...)
	res.Behaviors = slices.Compact(behaviors)
	if res.Behaviors == nil {
		res.Behaviors = []string{}
	}

	if len(r.degraded) > 0 {
		res.Confidence = min(res.Confidence, o.config.DegradedConfidence)
		res.Explanation += "; degraded: " + r.degraded[0]
	}
	return &res
}

func (o *Orchestrator) store(ctx context.Context, key string, res *analysis.Result, log *zap.Logger) {
	if o.deps.Cache == nil {
		return
	}
	if err := o.deps.Cache.Store(ctx, key, res); err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		o.stats.cacheError()
		log.Warn("Verdict cache store failed", zap.Error(err))
	}
}

func (o *Orchestrator) quarantine(ctx context.Context, r *run, res *analysis.Result, log *zap.Logger) {
	if o.deps.Quarantine == nil || res.Verdict != analysis.Malicious {
		return
	}
	if err := o.deps.Quarantine.Quarantine(ctx, r.key, r.req.Filename, r.req.Data, res); err != nil {
		log.Error("Quarantine hand-off failed", zap.Error(err))
		return
	}
	o.stats.quarantined()
	o.deps.Metrics.IncQuarantined()
}

// failed is the conservative result for an analysis that could not run.
func (o *Orchestrator) failed(req analysis.Request, reason string) *analysis.Result {
	return &analysis.Result{
		ID:          req.ID,
		Verdict:     analysis.Suspicious,
		Score:       analysis.Clamp01(o.config.FailedScore),
		Confidence:  analysis.Clamp01(o.config.FailedConfidence),
		Behaviors:   []string{},
		Explanation: "analysis failed: " + reason,
		State:       analysis.Failed.String(),
	}
}

// Stats returns a snapshot of the rolling counters.
func (o *Orchestrator) Stats() Statistics {
	return o.stats.snapshot()
}
