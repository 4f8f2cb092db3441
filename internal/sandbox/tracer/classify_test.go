package tracer

import (
	"testing"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/stretchr/testify/assert"
)

func TestSyscallNameRoundTrip(t *testing.T) {
	n, ok := SyscallNumber("openat")
	if !ok {
		t.Skip("no syscall table for this architecture")
	}
	assert.Equal(t, "openat", SyscallName(n))
	assert.Equal(t, "unknown", SyscallName(1<<20))
}

func TestClassify(t *testing.T) {
	tests := map[string]analysis.Category{
		"openat":    analysis.CategoryFileIO,
		"execve":    analysis.CategoryProcessControl,
		"mprotect":  analysis.CategoryMemoryManagement,
		"connect":   analysis.CategoryNetwork,
		"pipe2":     analysis.CategoryIPC,
		"setuid":    analysis.CategoryPermissionChange,
		"mount":     analysis.CategorySystem,
		"not_a_sys": analysis.CategoryUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, Classify(name), name)
	}
}

func TestSuspicious(t *testing.T) {
	tests := []struct {
		name string
		ev   analysis.SyscallEvent
		want bool
	}{
		{"plain read", analysis.SyscallEvent{Name: "read"}, false},
		{"connect", analysis.SyscallEvent{Name: "connect"}, true},
		{"fork", analysis.SyscallEvent{Name: "fork"}, true},
		{"thread clone", analysis.SyscallEvent{Name: "clone", Args: [6]uint64{cloneThread}}, false},
		{"process clone", analysis.SyscallEvent{Name: "clone", Args: [6]uint64{0x11}}, true},
		{"rw mmap", analysis.SyscallEvent{Name: "mmap", Args: [6]uint64{0, 4096, 0x3}}, false},
		{"rwx mmap", analysis.SyscallEvent{Name: "mmap", Args: [6]uint64{0, 4096, 0x7}}, true},
		{"rwx mprotect", analysis.SyscallEvent{Name: "mprotect", Args: [6]uint64{0, 4096, 0x6}}, true},
		{"setuid bit", analysis.SyscallEvent{Name: "chmod", Args: [6]uint64{0, 0o4755}}, true},
		{"plain chmod", analysis.SyscallEvent{Name: "chmod", Args: [6]uint64{0, 0o755}}, false},
		{"cron write", analysis.SyscallEvent{Name: "openat", Path: "/etc/cron.d/job"}, true},
		{"tmp open", analysis.SyscallEvent{Name: "openat", Path: "/tmp/file"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tt.ev
			annotate(&ev)
			assert.Equal(t, tt.want, ev.Suspicious)
		})
	}
}

func TestSensitivePath(t *testing.T) {
	assert.True(t, SensitivePath("/etc/shadow"))
	assert.True(t, SensitivePath("/home/a/.config/autostart/x.desktop"))
	assert.True(t, SensitivePath("/root/.ssh/authorized_keys"))
	assert.False(t, SensitivePath("/home/a/notes.txt"))
}
