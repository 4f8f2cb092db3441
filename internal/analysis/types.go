package analysis

import (
	"time"
)

// Request is the immutable input to one analysis. Tiers borrow Data
// read-only and must never retain or modify it.
type Request struct {
	ID       string
	Data     []byte
	Filename string
	Timeout  time.Duration // zero means use the configured default
}

// GuestResult is produced by the Tier 1 guest runtime or its host fallback.
// YaraLikeScore and MLLikeScore are the guest module's own heuristics and
// are unrelated to the external signature scanner and ML classifier.
type GuestResult struct {
	YaraLikeScore        float32       `json:"yara_like_score"`
	MLLikeScore          float32       `json:"ml_like_score"`
	DetectedPatternCount uint32        `json:"detected_pattern_count"`
	ExecutionTimeUS      uint64        `json:"execution_time_us"`
	TimedOut             bool          `json:"timed_out"`
	TriggeredRules       []string      `json:"triggered_rules,omitempty"`
	Observations         []string      `json:"observations,omitempty"`
	Fallback             bool          `json:"fallback"`
	FallbackReason       string        `json:"fallback_reason,omitempty"`
	BoundaryViolation    string        `json:"boundary_violation,omitempty"` // crossing that was rejected, if any
	Elapsed              time.Duration `json:"-"`
}

// Category classifies an observed syscall.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryFileIO
	CategoryProcessControl
	CategoryMemoryManagement
	CategoryNetwork
	CategoryIPC
	CategoryPermissionChange
	CategorySystem
)

// String returns the string representation of the category
func (c Category) String() string {
	switch c {
	case CategoryFileIO:
		return "file_io"
	case CategoryProcessControl:
		return "process_control"
	case CategoryMemoryManagement:
		return "memory_management"
	case CategoryNetwork:
		return "network"
	case CategoryIPC:
		return "ipc"
	case CategoryPermissionChange:
		return "permission_change"
	case CategorySystem:
		return "system"
	default:
		return "unknown"
	}
}

// SyscallEvent is one completed (entry and exit paired) syscall observed
// in a tracee.
type SyscallEvent struct {
	Timestamp  time.Duration // monotonic, relative to trace start
	PID        int
	Number     uint64
	Name       string
	Category   Category
	Args       [6]uint64
	Return     int64
	Path       string  // decoded path or command line, if any
	Entropy    float64 // Shannon entropy of a sampled write buffer, if any
	Suspicious bool
	Compat     bool // made through the i386 ABI; Number is an i386 number
}

// Failed reports whether the syscall returned a negative errno.
func (e SyscallEvent) Failed() bool {
	return e.Return < 0 && e.Return > -4096
}

// BehavioralMetrics aggregates a trace into counters and a threat score.
// It is built once and never mutated afterwards.
type BehavioralMetrics struct {
	FileOperations              uint32 `json:"file_operations"`
	TempFileCreates             uint32 `json:"temp_file_creates"`
	HiddenFileCreates           uint32 `json:"hidden_file_creates"`
	ExecutableDrops             uint32 `json:"executable_drops"`
	HighEntropyWrites           uint32 `json:"high_entropy_writes"`
	FileRenames                 uint32 `json:"file_renames"`
	FileDeletes                 uint32 `json:"file_deletes"`
	ProcessOperations           uint32 `json:"process_operations"`
	InjectionAttempts           uint32 `json:"injection_attempts"`
	NetworkOperations           uint32 `json:"network_operations"`
	OutboundConnections         uint32 `json:"outbound_connections"`
	IPCOperations               uint32 `json:"ipc_operations"`
	PrivilegeEscalationAttempts uint32 `json:"privilege_escalation_attempts"`
	PersistenceWrites           uint32 `json:"persistence_writes"`
	MemoryOperations            uint32 `json:"memory_operations"`
	RWXMappings                 uint32 `json:"rwx_mappings"`
	DeniedSyscalls              uint32 `json:"denied_syscalls"`
	InputDeviceAccess           uint32 `json:"input_device_access"`
	KernelInterfaceAccess       uint32 `json:"kernel_interface_access"`

	ThreatScore float32      `json:"threat_score"`
	SubScores   ThreatScores `json:"sub_scores"`
	Behaviors   []string     `json:"behaviors,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`
	TimedOut      bool          `json:"timed_out"`
	ExitCode      int           `json:"exit_code"`
	Degraded      bool          `json:"degraded"`
	Reason        string        `json:"reason,omitempty"`
}

// ThreatScores holds the per-category sub-scores, each in [0, 1].
type ThreatScores struct {
	FileSystem float32 `json:"file_system"`
	Process    float32 `json:"process"`
	Network    float32 `json:"network"`
	System     float32 `json:"system"`
	Memory     float32 `json:"memory"`
}

// TierState tracks a request's progress through the orchestrator.
type TierState int

const (
	Tier1Only TierState = iota
	EscalatedToTier2
	Failed
)

// String returns the string representation of the state
func (s TierState) String() string {
	switch s {
	case Tier1Only:
		return "tier1_only"
	case EscalatedToTier2:
		return "escalated_to_tier2"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Verdict is the three-way classification handed back to callers.
type Verdict int

const (
	Benign Verdict = iota
	Suspicious
	Malicious
)

// String returns the string representation of the verdict
func (v Verdict) String() string {
	switch v {
	case Benign:
		return "benign"
	case Suspicious:
		return "suspicious"
	case Malicious:
		return "malicious"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Result is the final output of one analysis. The caller owns it.
type Result struct {
	ID          string    `json:"id,omitempty"`
	Verdict     Verdict   `json:"verdict"`
	Score       float32   `json:"score"`
	Confidence  float32   `json:"confidence"`
	Behaviors   []string  `json:"behaviors"`
	Explanation string    `json:"explanation,omitempty"`
	State       string    `json:"state,omitempty"`
	Cached      bool      `json:"cached"`
	AnalyzedAt  time.Time `json:"analyzed_at"`

	Tier1 *GuestResult       `json:"tier1,omitempty"`
	Tier2 *BehavioralMetrics `json:"tier2,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
