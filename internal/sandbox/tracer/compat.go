package tracer

import (
	"encoding/binary"
	"strings"

	"github.com/elastic/go-seccomp-bpf/arch"
)

// compatFold maps i386 names onto the x86-64 call with the same meaning
// where the names differ by more than a width suffix.
var compatFold = map[string]string{
	"mmap2":      "mmap",
	"_llseek":    "lseek",
	"waitpid":    "wait4",
	"fstatat64":  "newfstatat",
	"_newselect": "select",
	"umount":     "umount2",
	"oldstat":    "stat",
	"oldfstat":   "fstat",
	"oldlstat":   "lstat",
	"sigreturn":  "rt_sigreturn",
	"ugetrlimit": "getrlimit",
}

type multiplexed struct {
	name string
	argc int
}

// socketcall(2) call numbers from linux/net.h.
var socketCalls = map[uint64]multiplexed{
	1: {"socket", 3}, 2: {"bind", 3}, 3: {"connect", 3}, 4: {"listen", 2},
	5: {"accept", 3}, 6: {"getsockname", 3}, 7: {"getpeername", 3},
	8: {"socketpair", 4}, 9: {"sendto", 4}, 10: {"recvfrom", 4},
	11: {"sendto", 6}, 12: {"recvfrom", 6}, 13: {"shutdown", 2},
	14: {"setsockopt", 5}, 15: {"getsockopt", 5}, 16: {"sendmsg", 3},
	17: {"recvmsg", 3}, 18: {"accept4", 4}, 19: {"recvmmsg", 5}, 20: {"sendmmsg", 4},
}

// ipc(2) call numbers from linux/ipc.h.
var ipcCalls = map[uint64]string{
	1: "semop", 2: "semget", 3: "semctl", 4: "semtimedop",
	11: "msgsnd", 12: "msgrcv", 13: "msgget", 14: "msgctl",
	21: "shmat", 22: "shmdt", 23: "shmget", 24: "shmctl",
}

// old_mmap takes a pointer to its six arguments.
var compatOldMmap = uint64(arch.I386.SyscallNames["mmap"])

// CompatSyscallName resolves an i386 syscall number to the x86-64 name
// with the same semantics, so both ABIs classify and aggregate alike.
// Calls with no x86-64 counterpart keep their i386 name.
func CompatSyscallName(nr uint64) string {
	name, ok := arch.I386.SyscallNumbers[int(nr)]
	if !ok {
		return "unknown"
	}
	if folded, ok := compatFold[name]; ok {
		return folded
	}
	native := arch.X86_64.SyscallNames
	if _, ok := native[name]; ok {
		return name
	}
	for _, suffix := range []string{"32", "64"} {
		if base, found := strings.CutSuffix(name, suffix); found {
			if _, ok := native[base]; ok {
				return base
			}
		}
	}
	return name
}

// compatEntry resolves an i386 syscall entry to its effective name and
// arguments. Register arguments are 32 bits wide; multiplexed and
// indirect calls read their real arguments from tracee memory.
func compatEntry(p peeker, tid int, nr uint64, raw [6]uint64) (string, [6]uint64, error) {
	var args [6]uint64
	for i, v := range raw {
		args[i] = uint64(uint32(v))
	}
	name := CompatSyscallName(nr)

	switch {
	case nr == compatOldMmap:
		a, err := readCompatArgs(p, tid, args[0], 6)
		return "mmap", a, err
	case name == "socketcall":
		call, ok := socketCalls[args[0]]
		if !ok {
			return name, args, nil
		}
		a, err := readCompatArgs(p, tid, args[1], call.argc)
		return call.name, a, err
	case name == "ipc":
		call, ok := ipcCalls[args[0]&0xffff]
		if !ok {
			return name, args, nil
		}
		return call, [6]uint64{args[1], args[2], args[3], args[4], args[5]}, nil
	}
	return name, args, nil
}

func readCompatArgs(p peeker, tid int, addr uint64, n int) ([6]uint64, error) {
	var args [6]uint64
	if addr == 0 {
		return args, nil
	}
	buf, err := readBytes(p, tid, addr, 4*n)
	if err != nil {
		return args, err
	}
	for i := range n {
		args[i] = uint64(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return args, nil
}
