//go:build !linux

package native

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/sentinel/internal/sandbox/tracer"
	"go.uber.org/zap"
)

// Launcher is unavailable off Linux; Run always fails with ErrLaunch.
type Launcher struct{}

// NewLauncher creates a launcher that cannot start samples.
func NewLauncher(Config, *zap.Logger) *Launcher { return &Launcher{} }

func (l *Launcher) Run(context.Context, RunSpec) (*tracer.Trace, error) {
	return nil, fmt.Errorf("%w: %v", ErrLaunch, tracer.ErrUnsupported)
}

// MaybeRunInit is a no-op off Linux.
func MaybeRunInit() {}
