package native

import (
	"math"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/stretchr/testify/assert"
)

func withPath(ev analysis.SyscallEvent, p string) analysis.SyscallEvent {
	ev.Path = p
	return ev
}

func TestAggregateFile(t *testing.T) {
	events := []analysis.SyscallEvent{
		withPath(event("openat", 3, 0, 0, oCreat|oWronly, 0o600), "/tmp/.x"),
		withPath(event("openat", 4, 0, 0, oCreat|oWronly, 0o755), "/work/dropped"),
		withPath(event("openat", -2, 0, 0, oCreat|oWronly, 0o755), "/work/failed"),
		withPath(event("open", 5, 0, oWronly, 0), "/etc/cron.d/job"),
		withPath(event("open", 6, 0, oRdwr, 0), "/etc/shadow"),
		withPath(event("open", 7, 0, oWronly, 0), "/proc/1/mem"),
		withPath(event("rename", 0), "/home/u/.bashrc"),
		event("unlink", 0),
		event("chmod", 0, 0, 0o4755),
		event("fchmod", 0, 3, 0o755),
		event("close", 0, 3),
	}
	m := aggregate(events, DefaultPolicy(), time.Second)

	assert.Equal(t, uint32(10), m.FileOperations, "close is not counted")
	assert.Equal(t, uint32(1), m.TempFileCreates)
	assert.Equal(t, uint32(1), m.HiddenFileCreates)
	assert.Equal(t, uint32(2), m.ExecutableDrops, "one creat with exec mode plus one chmod +x")
	assert.Equal(t, uint32(2), m.PersistenceWrites)
	assert.Equal(t, uint32(2), m.PrivilegeEscalationAttempts, "shadow write and setuid chmod")
	assert.Equal(t, uint32(1), m.InjectionAttempts)
	assert.Equal(t, uint32(1), m.FileRenames)
	assert.Equal(t, uint32(1), m.FileDeletes)
	assert.Equal(t, time.Second, m.ExecutionTime)
}

func TestAggregateProcessNetworkMemory(t *testing.T) {
	clone := event("clone", 100)
	clone.Suspicious = true
	thread := event("clone", 101)

	events := []analysis.SyscallEvent{
		event("fork", 10),
		event("execve", 0),
		clone,
		thread,
		event("ptrace", 0),
		withPath(event("connect", 0), "inet:203.0.113.5:443"),
		withPath(event("connect", 0), "unix:/run/x.sock"),
		event("socket", 3),
		event("mmap", 0, 0, 4096, 0x7),
		event("mprotect", 0, 0, 4096, 0x1),
		event("pipe2", 0),
		event("setuid", -int64(syscall.EPERM), 0),
		withPath(event("openat", 3, 0, 0, 0, 0), "/dev/input/event0"),
		withPath(event("openat", 4, 0, 0, 0, 0), "/proc/kallsyms"),
	}
	m := aggregate(events, DefaultPolicy(), time.Second)

	assert.Equal(t, uint32(4), m.ProcessOperations, "thread clone is not counted")
	assert.Equal(t, uint32(1), m.InjectionAttempts)
	assert.Equal(t, uint32(3), m.NetworkOperations)
	assert.Equal(t, uint32(1), m.OutboundConnections)
	assert.Equal(t, uint32(2), m.MemoryOperations)
	assert.Equal(t, uint32(1), m.RWXMappings)
	assert.Equal(t, uint32(1), m.IPCOperations)
	assert.Equal(t, uint32(1), m.PrivilegeEscalationAttempts)
	assert.Equal(t, uint32(1), m.DeniedSyscalls)
	assert.Equal(t, uint32(1), m.InputDeviceAccess)
	assert.Equal(t, uint32(1), m.KernelInterfaceAccess)
}

func TestThreatScoreClamped(t *testing.T) {
	const big = math.MaxUint32
	huge := analysis.BehavioralMetrics{
		FileOperations: big, TempFileCreates: big, HiddenFileCreates: big, ExecutableDrops: big,
		HighEntropyWrites: big, FileRenames: big, FileDeletes: big,
		ProcessOperations: big, InjectionAttempts: big,
		NetworkOperations: big, OutboundConnections: big,
		PrivilegeEscalationAttempts: big, PersistenceWrites: big,
		MemoryOperations: big, RWXMappings: big, DeniedSyscalls: big, KernelInterfaceAccess: big,
	}
	for _, elapsed := range []time.Duration{0, time.Millisecond, time.Second, time.Hour} {
		huge.ExecutionTime = elapsed
		s := subScores(huge)
		for _, v := range []float32{s.FileSystem, s.Process, s.Network, s.System, s.Memory} {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
		score := threatScore(s)
		assert.GreaterOrEqual(t, score, float32(0))
		assert.LessOrEqual(t, score, float32(1))
		assert.Greater(t, score, float32(0.9))
	}

	assert.Zero(t, threatScore(subScores(analysis.BehavioralMetrics{})))
	assert.Equal(t, float32(1), threatScore(analysis.ThreatScores{FileSystem: 5, Process: 5, Network: 5, System: 5, Memory: 5}))
}

func TestFileScoreTiers(t *testing.T) {
	tests := []struct {
		name string
		m    analysis.BehavioralMetrics
		want float32
	}{
		{"quiet", analysis.BehavioralMetrics{FileOperations: 10}, 0},
		{"busy", analysis.BehavioralMetrics{FileOperations: 60}, 0.6},
		{"many", analysis.BehavioralMetrics{FileOperations: 150, ExecutionTime: 10 * time.Second}, 0.7},
		{"mass", analysis.BehavioralMetrics{FileOperations: 600, ExecutionTime: 10 * time.Second}, 0.9},
		{"encrypting", analysis.BehavioralMetrics{FileOperations: 20, HighEntropyWrites: 10}, 0.8},
		{"dropper", analysis.BehavioralMetrics{FileOperations: 2, ExecutableDrops: 4}, 0.7},
		{"persistence", analysis.BehavioralMetrics{FileOperations: 1, PersistenceWrites: 1}, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, subScores(tt.m).FileSystem, 1e-5)
		})
	}
}

func TestDetectors(t *testing.T) {
	tests := []struct {
		name string
		m    analysis.BehavioralMetrics
		want string
	}{
		{"injector", analysis.BehavioralMetrics{InjectionAttempts: 1}, "code injection"},
		{"escalation", analysis.BehavioralMetrics{PrivilegeEscalationAttempts: 2}, "privilege escalation"},
		{"rootkit", analysis.BehavioralMetrics{KernelInterfaceAccess: 1, PersistenceWrites: 1}, "rootkit"},
		{"ransomware", analysis.BehavioralMetrics{FileOperations: 200, HighEntropyWrites: 20}, "ransomware"},
		{"dropper", analysis.BehavioralMetrics{ExecutableDrops: 1}, "dropped 1 executable"},
		{"beacon", analysis.BehavioralMetrics{NetworkOperations: 6, OutboundConnections: 4}, "C2 beaconing"},
		{"keylogger", analysis.BehavioralMetrics{InputDeviceAccess: 3, HiddenFileCreates: 1}, "keylogger"},
		{"rwx", analysis.BehavioralMetrics{RWXMappings: 1}, "writable+executable"},
		{"spawner", analysis.BehavioralMetrics{ProcessOperations: 6}, "spawned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := behaviors(tt.m)
			found := slices.ContainsFunc(got, func(b string) bool { return strings.Contains(b, tt.want) })
			assert.True(t, found, "%v lacks %q", got, tt.want)
		})
	}
	assert.Empty(t, behaviors(analysis.BehavioralMetrics{FileOperations: 3}))
}
