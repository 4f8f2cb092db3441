package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	apihttp "github.com/GriffinCanCode/sentinel/internal/api/http"
	"github.com/GriffinCanCode/sentinel/internal/api/middleware"
	"github.com/GriffinCanCode/sentinel/internal/cache"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/config"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/sentinel/internal/orchestrator"
	"github.com/GriffinCanCode/sentinel/internal/quarantine"
	"github.com/GriffinCanCode/sentinel/internal/sandbox/guest"
	"github.com/GriffinCanCode/sentinel/internal/sandbox/native"
	"github.com/GriffinCanCode/sentinel/internal/shared/hash"
	"github.com/GriffinCanCode/sentinel/internal/verdict"
)

// Version is reported by the root endpoint.
var Version = "dev"

// Server wraps the HTTP server and the analysis pipeline
type Server struct {
	config       *config.Config
	logger       *logging.Logger
	registry     *prometheus.Registry
	metrics      *monitoring.Metrics
	executor     *guest.Executor
	analyzer     *native.Analyzer
	quarantine   *quarantine.Store
	orchestrator *orchestrator.Orchestrator
	router       *gin.Engine
}

// Options carry collaborators that live outside this process.
type Options struct {
	Logger     *logging.Logger
	Scanner    analysis.SignatureScanner
	Classifier analysis.MLClassifier
}

// NewServer builds every component from cfg. Only a broken sandbox policy
// or quarantine directory is fatal; a missing guest module degrades Tier 1
// to the host heuristics.
func NewServer(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
	}

	logger.Info("Initializing sentinel",
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("native_enabled", cfg.Native.Enabled),
		zap.Bool("cache_enabled", cfg.Cache.Enabled))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	s := &Server{config: cfg, logger: logger, registry: reg, metrics: metrics}

	s.executor = guest.New(ctx, guestConfig(cfg.Guest), logger.Component("guest"))
	if cfg.Guest.ModulePath != "" {
		if err := s.executor.LoadModuleFile(ctx, cfg.Guest.ModulePath); err != nil {
			logger.Warn("Guest module unavailable, Tier 1 runs host heuristics only",
				zap.String("path", cfg.Guest.ModulePath), zap.Error(err))
		}
	}

	analyzer, err := native.NewAnalyzer(nativeConfig(cfg.Native), nil, logger.Component("native"))
	if err != nil {
		_ = s.executor.Close(ctx)
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	s.analyzer = analyzer

	algorithm, err := hash.ParseAlgorithm(cfg.Cache.Hash)
	if err != nil {
		_ = s.executor.Close(ctx)
		return nil, err
	}
	deps := orchestrator.Deps{
		Scanner:    opts.Scanner,
		Classifier: opts.Classifier,
		Hasher:     hash.New(algorithm),
		Metrics:    metrics,
		Logger:     logger.Component("orchestrator"),
	}
	if cfg.Cache.Enabled {
		deps.Cache = cache.NewGuarded(
			cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL),
			cfg.Cache.BreakerThreshold, cfg.Cache.BreakerCooldown,
			logger.Component("cache"))
	}
	if cfg.Quarantine.Dir != "" {
		store, err := quarantine.NewStore(cfg.Quarantine.Dir, cfg.Orchestrator.MaxFileSizeMB<<20, logger.Component("quarantine"))
		if err != nil {
			_ = s.executor.Close(ctx)
			return nil, err
		}
		s.quarantine = store
		deps.Quarantine = store
	}

	s.orchestrator = orchestrator.New(orchestratorConfig(cfg), s.executor, s.analyzer, deps)
	s.router = s.buildRouter()

	logger.Info("Server initialized",
		zap.Bool("guest_module_loaded", s.executor.Loaded()),
		zap.Bool("native_enabled", s.analyzer.Enabled()))
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if rl := s.config.RateLimit; rl.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", rl.RequestsPerSecond),
			zap.Int("burst", rl.Burst))
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond, limits.Burst = rl.RequestsPerSecond, rl.Burst
		router.Use(middleware.RateLimit(limits))
	}

	opts := apihttp.Options{
		MaxUploadBytes: s.config.Server.MaxUploadMB << 20,
		Version:        Version,
		Status:         s.status,
		Logger:         s.logger.Component("api"),
	}
	if s.quarantine != nil {
		opts.Quarantine = s.quarantine
	}
	apihttp.NewHandlers(s.orchestrator, opts).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return router
}

func (s *Server) status() apihttp.Status {
	return apihttp.Status{
		GuestModuleLoaded: s.executor.Loaded(),
		NativeEnabled:     s.analyzer.Enabled(),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Orchestrator returns the analysis pipeline.
func (s *Server) Orchestrator() *orchestrator.Orchestrator {
	return s.orchestrator
}

// Run serves until ctx is cancelled, then drains in-flight analyses.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if n := s.config.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.WriteTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the guest runtime and the quarantine codecs.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Releasing analysis resources")
	var errs []error
	if err := s.executor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close guest runtime: %w", err))
	}
	if s.quarantine != nil {
		if err := s.quarantine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close quarantine: %w", err))
		}
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

func guestConfig(c config.GuestConfig) guest.Config {
	gc := guest.DefaultConfig()
	gc.ModulePath = c.ModulePath
	if c.MemoryLimitMB > 0 {
		gc.MaxMemoryBytes = c.MemoryLimitMB << 20
	}
	if c.Timeout > 0 {
		gc.Timeout = c.Timeout
	}
	gc.CallBudget = c.Fuel
	return gc
}

func nativeConfig(c config.NativeConfig) native.Config {
	nc := native.DefaultConfig()
	nc.Enabled = c.Enabled
	if c.Timeout > 0 {
		nc.Timeout = c.Timeout
	}
	nc.ScratchDir = c.ScratchDir
	nc.PolicyFile = c.PolicyFile
	nc.TimeoutFloor = c.TimeoutFloor
	nc.LaunchFailureScore = c.LaunchFailureScore
	nc.Limits = native.Limits{
		AddressSpaceMB: c.AddressSpaceMB,
		CPUSeconds:     c.CPUSeconds,
		FileSizeMB:     c.FileSizeMB,
		OpenFiles:      c.OpenFiles,
		Processes:      c.Processes,
	}
	return nc
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	o := cfg.Orchestrator
	return orchestrator.Config{
		CleanThreshold:     o.CleanThreshold,
		MaliciousThreshold: o.MaliciousThreshold,
		FailedScore:        o.FailedScore,
		FailedConfidence:   o.FailedConfidence,
		DegradedConfidence: o.DegradedConfidence,
		Tier2Timeout:       cfg.Native.Timeout,
		MaxFileSize:        o.MaxFileSizeMB << 20,
		Verdict:            verdictConfig(cfg.Verdict),
	}
}

func verdictConfig(v config.VerdictConfig) verdict.Config {
	return verdict.Config{
		Weights: verdict.Weights{
			Signature:  v.SignatureWeight,
			ML:         v.MLWeight,
			Behavioral: v.BehavioralWeight,
			Tier1Only:  v.Tier1OnlyWeight,
			Tier1Blend: v.Tier1Blend,
			Tier2Blend: v.Tier2Blend,
		},
		SuspiciousThreshold: v.SuspiciousThreshold,
		MaliciousThreshold:  v.MaliciousThreshold,
		DisagreementGap:     v.DisagreementGap,
	}
}
