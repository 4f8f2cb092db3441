package native

import (
	"context"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/sandbox/tracer"
)

// RunSpec describes one sandboxed run.
type RunSpec struct {
	ScratchDir string // host directory, visible to the sample as /work
	Sample     string // file name inside ScratchDir
	Timeout    time.Duration
	Limits     Limits
	Policy     *Policy
	ReadOnly   []string
}

// Runner launches a sample under isolation and returns its syscall trace.
// A non-nil error means nothing useful could be observed.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*tracer.Trace, error)
}

// initArg marks a re-exec of the host binary as the sandbox init helper.
const initArg = "__sentinel_sandbox_init"

// initFailureExit is the init helper's exit code when setup fails before
// the sample is executed.
const initFailureExit = 125

// initSpec is handed to the init helper on its command line.
type initSpec struct {
	Root     string   `json:"root"`
	Work     string   `json:"work"`
	Sample   string   `json:"sample"`
	ReadOnly []string `json:"read_only"`
	Limits   Limits   `json:"limits"`
	Policy   *Policy  `json:"policy"`
}
