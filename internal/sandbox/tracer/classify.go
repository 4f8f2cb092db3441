package tracer

import (
	"strings"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/elastic/go-seccomp-bpf/arch"
)

// Memory protection and clone flags inspected by the classifier.
const (
	protWrite   = 0x2
	protExec    = 0x4
	cloneThread = 0x10000
	modeSetuid  = 0o4000
	modeSetgid  = 0o2000
)

var (
	numberToName map[int]string
	nameToNumber map[string]int
)

func init() {
	info, err := arch.GetInfo("")
	if err != nil {
		return
	}
	numberToName = info.SyscallNumbers
	nameToNumber = info.SyscallNames
}

// SyscallName resolves a syscall number for the host architecture.
func SyscallName(nr uint64) string {
	if name, ok := numberToName[int(nr)]; ok {
		return name
	}
	return "unknown"
}

// SyscallNumber is the inverse of SyscallName.
func SyscallNumber(name string) (uint64, bool) {
	nr, ok := nameToNumber[name]
	return uint64(nr), ok
}

var categories = map[string]analysis.Category{}

func register(c analysis.Category, names ...string) {
	for _, n := range names {
		categories[n] = c
	}
}

func init() {
	register(analysis.CategoryFileIO,
		"open", "openat", "openat2", "creat", "close", "close_range",
		"read", "write", "pread64", "pwrite64", "readv", "writev", "preadv", "pwritev",
		"lseek", "sendfile", "copy_file_range", "splice",
		"unlink", "unlinkat", "rename", "renameat", "renameat2",
		"mkdir", "mkdirat", "rmdir", "link", "linkat", "symlink", "symlinkat",
		"truncate", "ftruncate", "fsync", "fdatasync",
		"stat", "fstat", "lstat", "newfstatat", "statx", "access", "faccessat", "faccessat2",
		"getdents", "getdents64", "readlink", "readlinkat", "chdir", "fchdir",
		"chmod", "fchmod", "fchmodat", "chown", "fchown", "lchown", "fchownat",
		"dup", "dup2", "dup3", "fcntl", "ioctl", "utimensat", "memfd_create")
	register(analysis.CategoryProcessControl,
		"fork", "vfork", "clone", "clone3", "execve", "execveat",
		"exit", "exit_group", "wait4", "waitid", "kill", "tkill", "tgkill",
		"ptrace", "process_vm_readv", "process_vm_writev", "prctl", "arch_prctl",
		"set_tid_address", "setpgid", "setsid", "getpid", "getppid", "gettid")
	register(analysis.CategoryMemoryManagement,
		"mmap", "munmap", "mprotect", "mremap", "brk", "madvise", "mlock", "munlock", "pkey_mprotect")
	register(analysis.CategoryNetwork,
		"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
		"sendto", "recvfrom", "sendmsg", "recvmsg", "sendmmsg", "recvmmsg",
		"setsockopt", "getsockopt", "shutdown", "getsockname", "getpeername")
	register(analysis.CategoryIPC,
		"pipe", "pipe2", "eventfd", "eventfd2",
		"shmget", "shmat", "shmdt", "shmctl", "msgget", "msgsnd", "msgrcv", "msgctl",
		"semget", "semop", "semctl", "mq_open", "mq_unlink", "mq_timedsend", "mq_timedreceive")
	register(analysis.CategoryPermissionChange,
		"setuid", "setgid", "setreuid", "setregid", "setresuid", "setresgid",
		"setfsuid", "setfsgid", "setgroups", "capset")
	register(analysis.CategorySystem,
		"mount", "umount2", "pivot_root", "chroot", "reboot", "kexec_load", "kexec_file_load",
		"init_module", "finit_module", "delete_module", "sethostname", "setdomainname",
		"swapon", "swapoff", "unshare", "setns", "bpf", "perf_event_open",
		"iopl", "ioperm", "personality", "settimeofday", "clock_settime", "acct", "quotactl")
}

// Classify maps a syscall name to its category.
func Classify(name string) analysis.Category {
	if c, ok := categories[name]; ok {
		return c
	}
	return analysis.CategoryUnknown
}

// annotate sets Category and Suspicious on an event whose Name, Args and
// Path are already filled in.
func annotate(ev *analysis.SyscallEvent) {
	ev.Category = Classify(ev.Name)
	ev.Suspicious = suspicious(ev)
}

func suspicious(ev *analysis.SyscallEvent) bool {
	switch ev.Category {
	case analysis.CategoryNetwork, analysis.CategorySystem:
		return true
	case analysis.CategoryPermissionChange:
		return true
	}

	switch ev.Name {
	case "fork", "vfork", "execve", "execveat", "clone3",
		"ptrace", "process_vm_writev":
		return true
	case "clone":
		return ev.Args[0]&cloneThread == 0
	case "mmap", "mprotect", "pkey_mprotect":
		return IsRWX(ev.Args[2])
	case "chmod", "fchmod":
		return ev.Args[1]&(modeSetuid|modeSetgid) != 0
	case "fchmodat":
		return ev.Args[2]&(modeSetuid|modeSetgid) != 0
	case "memfd_create":
		return true
	}

	return ev.Path != "" && SensitivePath(ev.Path)
}

// IsRWX reports whether prot requests a writable and executable mapping.
func IsRWX(prot uint64) bool {
	return prot&protWrite != 0 && prot&protExec != 0
}

var sensitivePrefixes = []string{
	"/etc/passwd", "/etc/shadow", "/etc/sudoers", "/etc/ld.so.preload",
	"/etc/cron", "/var/spool/cron", "/etc/systemd/", "/lib/systemd/", "/etc/init.d/",
	"/etc/rc.local", "/etc/profile", "/root/.ssh", "/proc/self/mem",
}

var sensitiveSuffixes = []string{
	"/.bashrc", "/.profile", "/.bash_profile", "/.ssh/authorized_keys",
	"/.config/autostart",
}

// SensitivePath reports whether path is a credential or persistence
// location.
func SensitivePath(path string) bool {
	for _, p := range sensitivePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, s := range sensitiveSuffixes {
		if strings.HasSuffix(path, s) || strings.Contains(path, s+"/") {
			return true
		}
	}
	return false
}
