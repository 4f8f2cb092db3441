package native

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-seccomp-bpf/arch"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/net/bpf"
)

// Policy is the sample's syscall table. Allowed calls run silently, logged
// calls run and are audited, denied calls fail with EPERM. Anything not
// listed takes Default.
type Policy struct {
	Default string   `yaml:"default" toml:"default" json:"default"`
	Allow   []string `yaml:"allow" toml:"allow" json:"allow"`
	Log     []string `yaml:"log" toml:"log" json:"log"`
	Deny    []string `yaml:"deny" toml:"deny" json:"deny"`
}

// Policy actions.
const (
	ActionAllow = "allow"
	ActionLog   = "log"
	ActionDeny  = "deny"
)

// DefaultPolicy allows basic I/O, memory, signal and time calls, logs
// process creation, network and IPC, and denies calls that change
// system-wide state.
func DefaultPolicy() *Policy {
	return &Policy{
		Default: ActionLog,
		Allow: []string{
			"read", "write", "pread64", "pwrite64", "readv", "writev", "lseek",
			"open", "openat", "close", "stat", "fstat", "lstat", "newfstatat", "statx",
			"access", "faccessat", "faccessat2", "getdents64", "readlink", "readlinkat",
			"fcntl", "ioctl", "dup", "dup2", "dup3", "getcwd", "chdir",
			"unlink", "unlinkat", "rename", "renameat", "renameat2", "mkdir", "mkdirat",
			"mmap", "munmap", "mprotect", "mremap", "brk", "madvise",
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack",
			"clock_gettime", "clock_nanosleep", "nanosleep", "gettimeofday", "time",
			"getpid", "gettid", "getuid", "getgid", "geteuid", "getegid", "getppid",
			"arch_prctl", "set_tid_address", "set_robust_list", "rseq", "prlimit64",
			"futex", "sched_yield", "getrandom", "uname", "sysinfo",
			"exit", "exit_group", "wait4", "poll", "ppoll", "select", "pselect6",
		},
		Log: []string{
			"fork", "vfork", "clone", "clone3", "execve", "execveat", "kill", "tgkill",
			"ptrace", "process_vm_readv", "process_vm_writev",
			"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
			"sendto", "recvfrom", "sendmsg", "recvmsg",
			"pipe", "pipe2", "shmget", "shmat", "msgget", "msgsnd", "semget", "mq_open",
		},
		Deny: []string{
			"mount", "umount2", "pivot_root", "chroot", "reboot", "kexec_load", "kexec_file_load",
			"init_module", "finit_module", "delete_module",
			"setuid", "setgid", "setreuid", "setregid", "setresuid", "setresgid",
			"setfsuid", "setfsgid", "setgroups", "capset",
			"sethostname", "setdomainname", "swapon", "swapoff",
			"settimeofday", "clock_settime", "acct", "quotactl", "iopl", "ioperm",
			"bpf", "perf_event_open", "unshare", "setns",
		},
	}
}

// LoadPolicy reads a YAML policy, or TOML when the file ends in .toml.
// Lists present in the file replace the defaults; absent lists keep them.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p := DefaultPolicy()
	var override Policy
	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		unmarshal = toml.Unmarshal
	}
	if err := unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if override.Default != "" {
		p.Default = override.Default
	}
	if override.Allow != nil {
		p.Allow = override.Allow
	}
	if override.Log != nil {
		p.Log = override.Log
	}
	if override.Deny != nil {
		p.Deny = override.Deny
	}
	return p, p.Validate()
}

// Validate checks actions and that no syscall is listed twice.
func (p *Policy) Validate() error {
	if _, err := toAction(p.Default); err != nil {
		return err
	}
	seen := make(map[string]string)
	for action, names := range map[string][]string{ActionAllow: p.Allow, ActionLog: p.Log, ActionDeny: p.Deny} {
		for _, n := range names {
			if prev, ok := seen[n]; ok && prev != action {
				return fmt.Errorf("syscall %q listed as both %s and %s", n, prev, action)
			}
			seen[n] = action
		}
	}
	return nil
}

// Denies reports whether name is rejected with EPERM.
func (p *Policy) Denies(name string) bool {
	if slices.Contains(p.Deny, name) {
		return true
	}
	return p.Default == ActionDeny && !slices.Contains(p.Allow, name) && !slices.Contains(p.Log, name)
}

func toAction(s string) (seccomp.Action, error) {
	switch s {
	case ActionAllow:
		return seccomp.ActionAllow, nil
	case ActionLog, "":
		return seccomp.ActionLog, nil
	case ActionDeny:
		return seccomp.ActionErrno, nil
	}
	return 0, fmt.Errorf("unknown policy action %q", s)
}

// Filter compiles the policy for the host architecture. Names the
// architecture does not have are skipped.
func (p *Policy) Filter() (seccomp.Filter, error) {
	def, err := toAction(p.Default)
	if err != nil {
		return seccomp.Filter{}, err
	}
	info, err := arch.GetInfo("")
	if err != nil {
		return seccomp.Filter{}, fmt.Errorf("seccomp arch: %w", err)
	}
	known := func(names []string) []string {
		out := make([]string, 0, len(names))
		for _, n := range names {
			if _, ok := info.SyscallNames[n]; ok {
				out = append(out, n)
			}
		}
		return out
	}

	var groups []seccomp.SyscallGroup
	add := func(action seccomp.Action, names []string) {
		if names = known(names); len(names) > 0 && action != def {
			groups = append(groups, seccomp.SyscallGroup{Action: action, Names: names})
		}
	}
	add(seccomp.ActionErrno, p.Deny)
	add(seccomp.ActionLog, p.Log)
	add(seccomp.ActionAllow, p.Allow)

	return seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy: seccomp.Policy{
			DefaultAction: def,
			Syscalls:      groups,
		},
	}, nil
}

// seccomp_data offsets, and the errno denied calls fail with.
const (
	seccompNrOffset   = 0
	seccompArchOffset = 4
	errnoEPERM        = 1
)

// CompatFilter returns a second filter that applies the deny list to i386
// syscalls on an x86-64 host. The main filter only matches the native
// ABI and sends every other one to its default action; stacked filters
// resolve to the most restrictive result, so this one only needs to
// reject. It returns nil on other hosts.
func (p *Policy) CompatFilter() ([]bpf.Instruction, error) {
	if runtime.GOARCH != "amd64" {
		return nil, nil
	}
	var nrs []uint32
	for _, name := range p.Deny {
		// 16-bit credential calls have 32-bit twins on i386
		for _, n := range []string{name, name + "32"} {
			if nr, ok := arch.I386.SyscallNames[n]; ok {
				nrs = append(nrs, uint32(nr))
			}
		}
	}
	if len(nrs) > 250 {
		return nil, fmt.Errorf("compat filter: %d denied syscalls exceed jump range", len(nrs))
	}

	n := len(nrs)
	allow := bpf.RetConstant{Val: uint32(seccomp.ActionAllow)}
	deny := bpf.RetConstant{Val: uint32(seccomp.ActionErrno) | errnoEPERM}
	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompArchOffset, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(arch.I386.ID), SkipTrue: uint8(n + 1)},
		bpf.LoadAbsolute{Off: seccompNrOffset, Size: 4},
	}
	for i, nr := range nrs {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: nr, SkipTrue: uint8(n - i)})
	}
	return append(prog, allow, deny), nil
}
