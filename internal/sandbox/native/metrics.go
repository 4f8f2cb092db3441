package native

import (
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/GriffinCanCode/sentinel/internal/sandbox/tracer"
	"github.com/GriffinCanCode/sentinel/internal/shared/entropy"
)

// open(2) flags and mode bits inspected by the aggregator.
const (
	oWronly  = 0x1
	oRdwr    = 0x2
	oCreat   = 0x40
	modeExec = 0o111
)

var tempPrefixes = []string{"/tmp/", "/var/tmp/", "/dev/shm/"}

var persistencePrefixes = []string{
	"/etc/cron", "/var/spool/cron", "/etc/systemd/", "/lib/systemd/", "/usr/lib/systemd/",
	"/etc/init.d/", "/etc/rc.local", "/etc/profile", "/etc/ld.so.preload", "/etc/xdg/autostart",
}

var persistenceSuffixes = []string{
	"/.bashrc", "/.bash_profile", "/.profile", "/.zshrc", "/.ssh/authorized_keys",
}

var credentialPaths = []string{"/etc/passwd", "/etc/shadow", "/etc/sudoers", "/etc/gshadow"}

var kernelInterfaces = []string{"/proc/kallsyms", "/proc/kcore", "/dev/mem", "/dev/kmem", "/sys/kernel/", "/proc/sys/kernel/"}

func isPersistencePath(p string) bool {
	for _, pre := range persistencePrefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	for _, suf := range persistenceSuffixes {
		if strings.HasSuffix(p, suf) {
			return true
		}
	}
	return strings.Contains(p, "/.config/autostart/")
}

func hasPrefix(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return false
}

// openFlags returns the flags and mode of an open-family event.
func openFlags(ev analysis.SyscallEvent) (flags, mode uint64, ok bool) {
	switch ev.Name {
	case "open":
		return ev.Args[1], ev.Args[2], true
	case "openat":
		return ev.Args[2], ev.Args[3], true
	case "creat":
		return oCreat | oWronly, ev.Args[1], true
	}
	return 0, 0, false
}

// aggregate folds a trace into counters. It never reads the clock; the
// duration comes from the trace.
func aggregate(events []analysis.SyscallEvent, policy *Policy, elapsed time.Duration) analysis.BehavioralMetrics {
	var m analysis.BehavioralMetrics
	m.ExecutionTime = elapsed

	for _, ev := range events {
		switch ev.Category {
		case analysis.CategoryFileIO:
			aggregateFile(&m, ev)
		case analysis.CategoryProcessControl:
			aggregateProcess(&m, ev)
		case analysis.CategoryMemoryManagement:
			m.MemoryOperations++
			if (ev.Name == "mmap" || ev.Name == "mprotect" || ev.Name == "pkey_mprotect") && tracer.IsRWX(ev.Args[2]) {
				m.RWXMappings++
			}
		case analysis.CategoryNetwork:
			m.NetworkOperations++
			if ev.Name == "connect" || ev.Name == "sendto" {
				if _, ok := tracer.RemoteAddr(ev.Path); ok {
					m.OutboundConnections++
				}
			}
		case analysis.CategoryIPC:
			m.IPCOperations++
		case analysis.CategoryPermissionChange:
			if escalates(ev) {
				m.PrivilegeEscalationAttempts++
			}
		case analysis.CategorySystem:
			m.PrivilegeEscalationAttempts++
		}

		if ev.Return == -int64(syscall.EPERM) && policy != nil && policy.Denies(ev.Name) {
			m.DeniedSyscalls++
		}
		if ev.Path != "" {
			switch {
			case strings.HasPrefix(ev.Path, "/dev/input/"):
				m.InputDeviceAccess++
			case hasPrefix(ev.Path, kernelInterfaces):
				m.KernelInterfaceAccess++
			}
		}
	}
	return m
}

func aggregateFile(m *analysis.BehavioralMetrics, ev analysis.SyscallEvent) {
	switch ev.Name {
	case "close", "fstat", "lseek", "fcntl", "ioctl", "dup", "dup2", "dup3", "close_range":
		return
	}
	m.FileOperations++

	if flags, mode, ok := openFlags(ev); ok && !ev.Failed() {
		writable := flags&(oWronly|oRdwr|oCreat) != 0
		if flags&oCreat != 0 {
			if hasPrefix(ev.Path, tempPrefixes) {
				m.TempFileCreates++
			}
			if ev.Path != "" && strings.HasPrefix(path.Base(ev.Path), ".") {
				m.HiddenFileCreates++
			}
			if mode&modeExec != 0 {
				m.ExecutableDrops++
			}
		}
		if writable {
			if isPersistencePath(ev.Path) {
				m.PersistenceWrites++
			}
			if hasPrefix(ev.Path, credentialPaths) {
				m.PrivilegeEscalationAttempts++
			}
			if strings.HasPrefix(ev.Path, "/proc/") && strings.HasSuffix(ev.Path, "/mem") {
				m.InjectionAttempts++
			}
		}
		return
	}

	switch ev.Name {
	case "write", "pwrite64":
		if ev.Return > 0 && ev.Entropy > entropy.High {
			m.HighEntropyWrites++
		}
	case "rename", "renameat", "renameat2":
		m.FileRenames++
		if isPersistencePath(ev.Path) {
			m.PersistenceWrites++
		}
	case "unlink", "unlinkat", "rmdir":
		m.FileDeletes++
	case "symlink", "symlinkat", "link", "linkat":
		if isPersistencePath(ev.Path) {
			m.PersistenceWrites++
		}
	case "chmod", "fchmod", "fchmodat":
		modeArg := 1
		if ev.Name == "fchmodat" {
			modeArg = 2
		}
		mode := ev.Args[modeArg]
		if mode&(0o4000|0o2000) != 0 {
			m.PrivilegeEscalationAttempts++
		} else if mode&modeExec != 0 && !ev.Failed() {
			m.ExecutableDrops++
		}
	}
}

func aggregateProcess(m *analysis.BehavioralMetrics, ev analysis.SyscallEvent) {
	switch ev.Name {
	case "fork", "vfork", "clone3", "execve", "execveat", "kill", "tkill", "tgkill":
		m.ProcessOperations++
	case "clone":
		if ev.Suspicious {
			m.ProcessOperations++
		}
	case "ptrace", "process_vm_writev":
		m.ProcessOperations++
		m.InjectionAttempts++
	}
}

// escalates reports whether a credential change targets root.
func escalates(ev analysis.SyscallEvent) bool {
	switch ev.Name {
	case "setuid", "setgid", "setfsuid", "setfsgid":
		return ev.Args[0] == 0
	case "setreuid", "setregid":
		return ev.Args[0] == 0 || ev.Args[1] == 0
	case "setresuid", "setresgid":
		return ev.Args[0] == 0 || ev.Args[1] == 0 || ev.Args[2] == 0
	case "capset", "setgroups":
		return true
	}
	return false
}
