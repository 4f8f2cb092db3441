// Package http exposes the verdict pipeline over HTTP with gin.
//
//	POST /v1/analyze       multipart "file" field, optional "timeout"
//	POST /v1/analyze/raw   request body, ?filename= and ?timeout=
//	GET  /v1/stats         orchestrator counters
//	GET  /v1/quarantine    quarantined samples, when a store is configured
//	GET  /health           tier availability
package http
