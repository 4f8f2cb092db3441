// Package config provides 12-factor configuration for the sentinel daemon.
//
// Configuration is loaded from environment variables with defaults. CLI
// flags in cmd/sentineld override a few of them.
//
// Sections:
//   - Server: HTTP listen address and limits
//   - Logging: level and output format
//   - RateLimit: per-client rate limiting
//   - Guest: Tier 1 module path, memory cap, deadline and call budget
//   - Native: Tier 2 sandbox switch, timeout, policy file and rlimits
//   - Orchestrator: decisive Tier 1 thresholds and failure scores
//   - Cache: verdict cache size, TTL and key hash
//   - Quarantine: directory for Malicious samples
//
// Example:
//
//	cfg := config.LoadOrDefault()
//	fmt.Println(cfg.Server.Addr())
package config
