package analysis

import "context"

// SignatureMatch is the external signature scanner's answer.
type SignatureMatch struct {
	Matched bool
	Score   float32
}

// SignatureScanner is the external pattern scanner (YARA or similar).
type SignatureScanner interface {
	Scan(data []byte) (SignatureMatch, error)
}

// MLClassifier is the external static classifier.
type MLClassifier interface {
	Predict(data []byte) (float32, error)
}

// VerdictCache stores verdicts keyed by content hash.
type VerdictCache interface {
	Lookup(ctx context.Context, contentHash string) (*Result, bool, error)
	Store(ctx context.Context, contentHash string, result *Result) error
}

// Quarantine receives files judged Malicious.
type Quarantine interface {
	Quarantine(ctx context.Context, contentHash, filename string, data []byte, result *Result) error
}
