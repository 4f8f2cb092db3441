// Package verdict combines external signature and ML scores with the
// behavioral tiers into a three-way verdict.
//
// Composite = weighted mean of the available signals (signature 0.40,
// ML 0.35, behavioral 0.25, or 0.15 when only Tier 1 ran). Bands:
// below 0.30 Benign, below 0.60 Suspicious, otherwise Malicious.
package verdict
