package native

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/sandbox/tracer"
)

var (
	ErrLaunch   = errors.New("sandbox launch failed")
	ErrDisabled = errors.New("native sandbox disabled")
)

// Limits are the hard resource limits applied to the sample.
type Limits struct {
	AddressSpaceMB uint64 `json:"address_space_mb"`
	CPUSeconds     uint64 `json:"cpu_seconds"`
	FileSizeMB     uint64 `json:"file_size_mb"`
	OpenFiles      uint64 `json:"open_files"`
	Processes      uint64 `json:"processes"`
}

// Config controls the Tier 2 sandbox.
type Config struct {
	Enabled            bool
	Timeout            time.Duration // wall-clock budget per sample
	ScratchDir         string        // parent of per-sample scratch dirs, "" for os.TempDir
	PolicyFile         string        // optional YAML or TOML syscall policy
	TimeoutFloor       float32       // minimum threat score for a sample that timed out
	LaunchFailureScore float32       // threat score when nothing could be observed
	InitPath           string        // binary hosting the sandbox init entry
	SandboxUID         int           // host uid the sandbox root maps to when running as root
	SandboxGID         int
	ReadOnlyBinds      []string
	Limits             Limits
	Tracer             tracer.Config
}

// DefaultConfig returns the reference sandbox settings.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Timeout:            5 * time.Second,
		TimeoutFloor:       0.5,
		LaunchFailureScore: 0.5,
		InitPath:           "/proc/self/exe",
		SandboxUID:         65534,
		SandboxGID:         65534,
		ReadOnlyBinds: []string{
			"/usr", "/bin", "/sbin", "/lib", "/lib64", "/lib32",
			"/etc/ld.so.cache", "/etc/ld.so.conf", "/etc/alternatives",
		},
		Limits: Limits{
			AddressSpaceMB: 1024,
			CPUSeconds:     10,
			FileSizeMB:     64,
			OpenFiles:      256,
			Processes:      64,
		},
		Tracer: tracer.DefaultConfig(),
	}
}
