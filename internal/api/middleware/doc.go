// Package middleware provides gin middleware for the analysis API: per-client
// rate limiting, request IDs and CORS for the local browser process.
package middleware
