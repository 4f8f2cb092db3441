package native

import (
	"fmt"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
)

type detector struct {
	name   string
	match  func(m analysis.BehavioralMetrics) bool
	report func(m analysis.BehavioralMetrics) string
}

// detectors run in order of severity. Each contributes at most one
// behavior line.
var detectors = []detector{
	{
		name: "process_injector",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.InjectionAttempts > 0 || (m.RWXMappings > 0 && m.ProcessOperations > 3)
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("CRITICAL: code injection (%d attempts via ptrace, process_vm_writev or /proc/<pid>/mem)", m.InjectionAttempts)
		},
	},
	{
		name: "privilege_escalation",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.PrivilegeEscalationAttempts > 0
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("CRITICAL: privilege escalation (%d attempts, %d denied by policy)", m.PrivilegeEscalationAttempts, m.DeniedSyscalls)
		},
	},
	{
		name: "rootkit",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.KernelInterfaceAccess > 0 && (m.PrivilegeEscalationAttempts > 0 || m.PersistenceWrites > 0)
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("CRITICAL: rootkit behavior (%d kernel interface accesses)", m.KernelInterfaceAccess)
		},
	},
	{
		name: "ransomware",
		match: func(m analysis.BehavioralMetrics) bool {
			if m.FileOperations <= 50 {
				return false
			}
			return m.HighEntropyWrites >= 10 ||
				(m.FileRenames > 10 && m.FileOperations > 100) ||
				m.FileDeletes*3 > m.FileOperations
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("HIGH: ransomware pattern (%d file operations, %d high-entropy writes, %d renames, %d deletes)",
				m.FileOperations, m.HighEntropyWrites, m.FileRenames, m.FileDeletes)
		},
	},
	{
		name: "persistence",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.PersistenceWrites > 0
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("HIGH: persistence mechanism installed (%d writes to autostart locations)", m.PersistenceWrites)
		},
	},
	{
		name: "dropper",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.ExecutableDrops > 0
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("HIGH: dropped %d executable files", m.ExecutableDrops)
		},
	},
	{
		name: "c2_beaconing",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.OutboundConnections >= 3 && m.NetworkOperations > 0 &&
				float32(m.OutboundConnections)/float32(m.NetworkOperations) > 0.3
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("HIGH: C2 beaconing (%d outbound connections)", m.OutboundConnections)
		},
	},
	{
		name: "cryptominer",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.NetworkOperations > 10 && m.OutboundConnections > 5 &&
				(m.MemoryOperations > 20 || m.ProcessOperations > 5 || m.PersistenceWrites > 0)
		},
		report: func(m analysis.BehavioralMetrics) string {
			return "HIGH: cryptominer pattern (pool connections with sustained resource use)"
		},
	},
	{
		name: "keylogger",
		match: func(m analysis.BehavioralMetrics) bool {
			indicators := 0
			for _, hit := range []bool{
				m.InputDeviceAccess > 0,
				m.HiddenFileCreates > 0,
				m.OutboundConnections > 0 && m.NetworkOperations > 5,
				m.PersistenceWrites > 0,
			} {
				if hit {
					indicators++
				}
			}
			return m.InputDeviceAccess > 0 && indicators >= 2
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("HIGH: keylogger pattern (%d input device accesses)", m.InputDeviceAccess)
		},
	},
	{
		name: "self_modifying",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.RWXMappings > 0
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("MEDIUM: %d writable+executable memory mappings", m.RWXMappings)
		},
	},
	{
		name: "hidden_files",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.HiddenFileCreates > 0
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("MEDIUM: created %d hidden files", m.HiddenFileCreates)
		},
	},
	{
		name: "process_spawning",
		match: func(m analysis.BehavioralMetrics) bool {
			return m.ProcessOperations > 5
		},
		report: func(m analysis.BehavioralMetrics) string {
			return fmt.Sprintf("MEDIUM: spawned or signalled processes %d times", m.ProcessOperations)
		},
	},
}

// behaviors returns one line per matching detector.
func behaviors(m analysis.BehavioralMetrics) []string {
	var out []string
	for _, d := range detectors {
		if d.match(m) {
			out = append(out, d.report(m))
		}
	}
	if m.TimedOut {
		out = append(out, "MEDIUM: sample exceeded its time budget")
	}
	return out
}
