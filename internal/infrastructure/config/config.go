package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server       ServerConfig
	Logging      LogConfig
	RateLimit    RateLimitConfig
	Guest        GuestConfig
	Native       NativeConfig
	Orchestrator OrchestratorConfig
	Verdict      VerdictConfig
	Cache        CacheConfig
	Quarantine   QuarantineConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"SENTINEL_PORT" default:"8080"`
	Host           string        `envconfig:"SENTINEL_HOST" default:"127.0.0.1"`
	MaxConnections int           `envconfig:"SENTINEL_MAX_CONNECTIONS" default:"256"`
	MaxUploadMB    int64         `envconfig:"SENTINEL_MAX_UPLOAD_MB" default:"64"`
	ReadTimeout    time.Duration `envconfig:"SENTINEL_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `envconfig:"SENTINEL_WRITE_TIMEOUT" default:"60s"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-client rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// GuestConfig holds Tier 1 guest runtime configuration.
type GuestConfig struct {
	ModulePath    string        `envconfig:"GUEST_MODULE_PATH"`
	MemoryLimitMB uint64        `envconfig:"GUEST_MEMORY_LIMIT_MB" default:"128"`
	Timeout       time.Duration `envconfig:"GUEST_TIMEOUT" default:"2s"`
	Fuel          int64         `envconfig:"GUEST_FUEL" default:"5000000"`
}

// NativeConfig holds Tier 2 sandbox configuration.
type NativeConfig struct {
	Enabled            bool          `envconfig:"NATIVE_ENABLED" default:"true"`
	Timeout            time.Duration `envconfig:"NATIVE_TIMEOUT" default:"5s"`
	ScratchDir         string        `envconfig:"NATIVE_SCRATCH_DIR"`
	PolicyFile         string        `envconfig:"NATIVE_POLICY_FILE"`
	TimeoutFloor       float32       `envconfig:"NATIVE_TIMEOUT_FLOOR" default:"0.5"`
	LaunchFailureScore float32       `envconfig:"NATIVE_LAUNCH_FAILURE_SCORE" default:"0.5"`
	AddressSpaceMB     uint64        `envconfig:"NATIVE_RLIMIT_AS_MB" default:"1024"`
	CPUSeconds         uint64        `envconfig:"NATIVE_RLIMIT_CPU_SECONDS" default:"10"`
	FileSizeMB         uint64        `envconfig:"NATIVE_RLIMIT_FSIZE_MB" default:"64"`
	OpenFiles          uint64        `envconfig:"NATIVE_RLIMIT_NOFILE" default:"256"`
	Processes          uint64        `envconfig:"NATIVE_RLIMIT_NPROC" default:"64"`
}

// OrchestratorConfig holds escalation thresholds.
type OrchestratorConfig struct {
	CleanThreshold     float32 `envconfig:"CLEAN_THRESHOLD" default:"0.3"`
	MaliciousThreshold float32 `envconfig:"MALICIOUS_THRESHOLD" default:"0.7"`
	FailedScore        float32 `envconfig:"FAILED_SCORE" default:"0.45"`
	FailedConfidence   float32 `envconfig:"FAILED_CONFIDENCE" default:"0.3"`
	DegradedConfidence float32 `envconfig:"DEGRADED_CONFIDENCE" default:"0.7"`
	MaxFileSizeMB      int64   `envconfig:"MAX_FILE_SIZE_MB" default:"256"`
}

// VerdictConfig holds the composite weights and verdict bands.
type VerdictConfig struct {
	SignatureWeight     float32 `envconfig:"VERDICT_SIGNATURE_WEIGHT" default:"0.40"`
	MLWeight            float32 `envconfig:"VERDICT_ML_WEIGHT" default:"0.35"`
	BehavioralWeight    float32 `envconfig:"VERDICT_BEHAVIORAL_WEIGHT" default:"0.25"`
	Tier1OnlyWeight     float32 `envconfig:"VERDICT_TIER1_ONLY_WEIGHT" default:"0.15"`
	Tier1Blend          float32 `envconfig:"VERDICT_TIER1_BLEND" default:"0.35"`
	Tier2Blend          float32 `envconfig:"VERDICT_TIER2_BLEND" default:"0.65"`
	SuspiciousThreshold float32 `envconfig:"VERDICT_SUSPICIOUS_THRESHOLD" default:"0.30"`
	MaliciousThreshold  float32 `envconfig:"VERDICT_MALICIOUS_THRESHOLD" default:"0.60"`
	DisagreementGap     float32 `envconfig:"VERDICT_DISAGREEMENT_GAP" default:"0.5"`
}

// CacheConfig holds verdict cache configuration.
type CacheConfig struct {
	Enabled          bool          `envconfig:"CACHE_ENABLED" default:"true"`
	Size             int           `envconfig:"CACHE_SIZE" default:"10000"`
	TTL              time.Duration `envconfig:"CACHE_TTL" default:"720h"`
	Hash             string        `envconfig:"CACHE_HASH" default:"sha256"`
	BreakerThreshold uint32        `envconfig:"CACHE_BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"CACHE_BREAKER_COOLDOWN" default:"30s"`
}

// QuarantineConfig holds the on-disk quarantine store configuration. An
// empty Dir disables quarantine.
type QuarantineConfig struct {
	Dir string `envconfig:"QUARANTINE_DIR"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings that would break the escalation logic.
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.CleanThreshold < 0 || o.MaliciousThreshold > 1 || o.CleanThreshold > o.MaliciousThreshold {
		return fmt.Errorf("invalid decisive thresholds: clean %.2f, malicious %.2f", o.CleanThreshold, o.MaliciousThreshold)
	}
	v := c.Verdict
	if v.SuspiciousThreshold < 0 || v.MaliciousThreshold > 1 || v.SuspiciousThreshold > v.MaliciousThreshold {
		return fmt.Errorf("invalid verdict bands: suspicious %.2f, malicious %.2f", v.SuspiciousThreshold, v.MaliciousThreshold)
	}
	for name, w := range map[string]float32{
		"signature":   v.SignatureWeight,
		"ml":          v.MLWeight,
		"behavioral":  v.BehavioralWeight,
		"tier1 only":  v.Tier1OnlyWeight,
		"tier1 blend": v.Tier1Blend,
		"tier2 blend": v.Tier2Blend,
	} {
		if w < 0 {
			return fmt.Errorf("negative %s weight %.2f", name, w)
		}
	}
	if v.Tier1Blend+v.Tier2Blend <= 0 {
		return fmt.Errorf("tier blend weights must not both be zero")
	}
	switch c.Cache.Hash {
	case "sha256", "blake3", "blake2b":
	default:
		return fmt.Errorf("unknown cache hash %q", c.Cache.Hash)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "127.0.0.1",
			MaxConnections: 256,
			MaxUploadMB:    64,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Guest: GuestConfig{
			MemoryLimitMB: 128,
			Timeout:       2 * time.Second,
			Fuel:          5_000_000,
		},
		Native: NativeConfig{
			Enabled:            true,
			Timeout:            5 * time.Second,
			TimeoutFloor:       0.5,
			LaunchFailureScore: 0.5,
			AddressSpaceMB:     1024,
			CPUSeconds:         10,
			FileSizeMB:         64,
			OpenFiles:          256,
			Processes:          64,
		},
		Orchestrator: OrchestratorConfig{
			CleanThreshold:     0.3,
			MaliciousThreshold: 0.7,
			FailedScore:        0.45,
			FailedConfidence:   0.3,
			DegradedConfidence: 0.7,
			MaxFileSizeMB:      256,
		},
		Verdict: VerdictConfig{
			SignatureWeight:     0.40,
			MLWeight:            0.35,
			BehavioralWeight:    0.25,
			Tier1OnlyWeight:     0.15,
			Tier1Blend:          0.35,
			Tier2Blend:          0.65,
			SuspiciousThreshold: 0.30,
			MaliciousThreshold:  0.60,
			DisagreementGap:     0.5,
		},
		Cache: CacheConfig{
			Enabled:          true,
			Size:             10000,
			TTL:              720 * time.Hour,
			Hash:             "sha256",
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
	}
}
