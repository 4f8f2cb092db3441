// Package id generates ULID identifiers for analyses.
//
// IDs are prefixed by kind ("ana_" for analyses, "evt_" for security
// events) and sort by creation time, so log lines and results order
// naturally.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AnalysisID identifies one analysis request.
type AnalysisID string

// EventID identifies a logged security event.
type EventID string

const (
	AnalysisPrefix = "ana"
	EventPrefix    = "evt"
)

// Generator produces ULIDs. Within one millisecond the entropy is
// monotonic, so IDs from one generator are strictly increasing.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// WithPrefix creates a prefixed ULID string.
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewAnalysisID generates an analysis ID.
func NewAnalysisID() AnalysisID {
	return AnalysisID(Default().WithPrefix(AnalysisPrefix))
}

// NewEventID generates a security event ID.
func NewEventID() EventID {
	return EventID(Default().WithPrefix(EventPrefix))
}

func (id AnalysisID) String() string { return string(id) }
func (id EventID) String() string    { return string(id) }

// Parse extracts the ULID from a bare or prefixed id.
func Parse(s string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	return ulid.Parse(s)
}

// IsValid reports whether s is a bare or prefixed ULID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Timestamp returns the creation time encoded in an id.
func Timestamp(s string) (time.Time, error) {
	u, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
