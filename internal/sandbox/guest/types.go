package guest

import (
	"errors"
	"fmt"
	"time"
)

// Export names the analysis module must (or may) provide.
const (
	ExportAllocate   = "allocate"
	ExportAnalyze    = "analyze_file"
	ExportDeallocate = "deallocate"
	ExportMemory     = "memory"
)

// HostModule is the import namespace for host functions offered to the guest.
const HostModule = "env"

const wasmPageSize = 64 * 1024

var (
	ErrNoRuntime     = errors.New("guest runtime not initialized")
	ErrNoModule      = errors.New("guest analysis module not loaded")
	ErrMissingExport = errors.New("guest module missing required export")
	ErrBadResult     = errors.New("guest returned malformed result")
	ErrTooLarge      = errors.New("input exceeds guest address space")
	errDeadline      = errors.New("guest deadline exceeded")
)

// BoundsError reports a host/guest memory access that fell outside the
// guest's linear memory. It is always security relevant.
type BoundsError struct {
	Boundary string
	Offset   uint64
	Length   uint64
	Size     uint64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("guest memory bounds violation at %s: offset=%d length=%d memory=%d",
		e.Boundary, e.Offset, e.Length, e.Size)
}

// Config defines guest runtime limits
type Config struct {
	ModulePath     string        // Path to the compiled analysis module
	MaxMemoryBytes uint64        // Linear memory cap
	Timeout        time.Duration // Deadline for one analyze call
	CallBudget     int64         // Guest function calls allowed per file, 0 disables
}

// DefaultConfig returns the reference limits.
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes: 128 * 1024 * 1024,
		Timeout:        time.Second,
		CallBudget:     5_000_000,
	}
}

func (c Config) memoryLimitPages() uint32 {
	pages := c.MaxMemoryBytes / wasmPageSize
	if pages == 0 || pages > 65536 {
		return 65536
	}
	return uint32(pages)
}

// Statistics tracks executor activity.
type Statistics struct {
	TotalExecutions      uint64        `json:"total_executions"`
	GuestExecutions      uint64        `json:"guest_executions"`
	Fallbacks            uint64        `json:"fallbacks"`
	Timeouts             uint64        `json:"timeouts"`
	BoundaryViolations   uint64        `json:"boundary_violations"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	MaxExecutionTime     time.Duration `json:"max_execution_time"`
}
