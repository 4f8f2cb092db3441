package tracer

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
)

var (
	ErrNotAttached     = errors.New("tracer not attached")
	ErrAlreadyAttached = errors.New("tracer already attached")
	ErrWrongThread     = errors.New("tracer used from a thread other than the one that attached")
	ErrUnsupported     = errors.New("syscall tracing not supported on this platform")
)

// Config bounds tracer memory and polling.
type Config struct {
	MaxStringBytes   int           // cap for decoded tracee strings
	WriteSampleBytes int           // bytes of each write buffer sampled for entropy
	MaxEvents        int           // events beyond this are counted, not stored
	PollInterval     time.Duration // initial sleep when no tracee changed state
	MaxPollInterval  time.Duration
}

// DefaultConfig returns the reference tracer limits.
func DefaultConfig() Config {
	return Config{
		MaxStringBytes:   4096,
		WriteSampleBytes: 4096,
		MaxEvents:        100_000,
		PollInterval:     100 * time.Microsecond,
		MaxPollInterval:  5 * time.Millisecond,
	}
}

// Trace is the outcome of one Monitor call. Events holds only completed
// entry/exit pairs, so len(Events) never exceeds EntriesObserved.
type Trace struct {
	Events             []analysis.SyscallEvent
	EntriesObserved    int
	DroppedExits       int  // exits without a recorded entry
	DroppedEvents      int  // pairs discarded past MaxEvents
	BoundaryViolations int  // unreadable tracee memory at a non-null pointer
	Started            bool // recording began (the sample image was loaded)
	TimedOut           bool
	ExitCode           int
	Signaled           bool
	Duration           time.Duration
}

type state int

const (
	stateIdle state = iota
	stateAttached
	stateMonitoring
	stateDone
)
