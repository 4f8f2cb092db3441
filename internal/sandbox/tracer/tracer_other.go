//go:build !linux || !amd64

package tracer

import (
	"time"

	"go.uber.org/zap"
)

// Tracer is unavailable on this platform; every operation fails with
// ErrUnsupported.
type Tracer struct{}

// New creates a tracer that cannot attach.
func New(Config, *zap.Logger) *Tracer { return &Tracer{} }

func (t *Tracer) Attach(int) error { return ErrUnsupported }

func (t *Tracer) Adopt(int) error { return ErrUnsupported }

func (t *Tracer) Monitor(time.Duration) (*Trace, error) { return nil, ErrUnsupported }

func (t *Tracer) Detach() error { return ErrUnsupported }
