// Package quarantine holds samples judged Malicious.
//
// Each sample is stored zstd-compressed under its content key with a JSON
// sidecar carrying the verdict, so the directory can be audited without
// decompressing anything. Files are written 0600 and never executable.
package quarantine
