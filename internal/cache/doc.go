// Package cache holds verdicts keyed by content hash so repeat downloads
// skip analysis. Memory is the in-process store; Guarded puts any
// VerdictCache behind a circuit breaker.
package cache
