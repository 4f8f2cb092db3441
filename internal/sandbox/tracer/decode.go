package tracer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/GriffinCanCode/sentinel/internal/shared/entropy"
)

const (
	pageSize       = 4096
	maxSockaddrLen = 128
)

// peeker reads tracee memory. Implementations must fill out completely or
// return an error.
type peeker interface {
	peek(tid int, addr uintptr, out []byte) (int, error)
}

// TraceeFault is returned when tracee memory at a non-null address is
// unreadable.
type TraceeFault struct {
	Addr uint64
	Err  error
}

func (e *TraceeFault) Error() string {
	return fmt.Sprintf("tracee memory unreadable at %#x: %v", e.Addr, e.Err)
}

func (e *TraceeFault) Unwrap() error { return e.Err }

// readBytes copies n bytes at addr. Reads are split on page boundaries so
// a fault always means the page really is unmapped. The result is either
// complete or nil.
func readBytes(p peeker, tid int, addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := min(n-len(out), pageSize-int(addr%pageSize))
		buf := make([]byte, chunk)
		got, err := p.peek(tid, uintptr(addr), buf)
		if err != nil || got == 0 {
			return nil, &TraceeFault{Addr: addr, Err: err}
		}
		out = append(out, buf[:got]...)
		addr += uint64(got)
	}
	return out, nil
}

// readString copies a NUL-terminated string of at most max bytes. A
// missing terminator yields the truncated prefix and truncated=true.
func readString(p peeker, tid int, addr uint64, max int) (s string, truncated bool, err error) {
	var out []byte
	for len(out) < max {
		chunk := min(max-len(out), pageSize-int(addr%pageSize))
		buf := make([]byte, chunk)
		got, err := p.peek(tid, uintptr(addr), buf)
		if err != nil || got == 0 {
			return "", false, &TraceeFault{Addr: addr, Err: err}
		}
		if i := bytes.IndexByte(buf[:got], 0); i >= 0 {
			return string(append(out, buf[:i]...)), false, nil
		}
		out = append(out, buf[:got]...)
		addr += uint64(got)
	}
	return string(out), true, nil
}

// decoded is the syscall-specific context captured at entry, while the
// tracee's pointers are still valid.
type decoded struct {
	Path    string
	Entropy float64
}

// pathArg gives the argument index holding the interesting path.
var pathArg = map[string]int{
	"open": 0, "creat": 0, "openat": 1, "openat2": 1,
	"unlink": 0, "unlinkat": 1, "rmdir": 0, "mkdir": 0, "mkdirat": 1,
	"rename": 1, "renameat": 3, "renameat2": 3,
	"link": 1, "linkat": 3, "symlink": 1, "symlinkat": 2,
	"chmod": 0, "fchmodat": 1, "chown": 0, "lchown": 0, "fchownat": 1,
	"truncate": 0, "chdir": 0, "chroot": 0,
	"execve": 0, "execveat": 1,
	"mount": 1, "umount2": 0, "swapon": 0,
}

func decodeEntry(p peeker, tid int, name string, args [6]uint64, cfg Config) (decoded, error) {
	var d decoded

	if idx, ok := pathArg[name]; ok {
		if args[idx] == 0 {
			return d, nil
		}
		s, _, err := readString(p, tid, args[idx], cfg.MaxStringBytes)
		if err != nil {
			return d, err
		}
		d.Path = s
		return d, nil
	}

	switch name {
	case "write", "pwrite64":
		n := int(min(args[2], uint64(cfg.WriteSampleBytes)))
		if args[1] == 0 || n == 0 {
			return d, nil
		}
		buf, err := readBytes(p, tid, args[1], n)
		if err != nil {
			return d, err
		}
		d.Entropy = entropy.Shannon(buf)
	case "connect", "sendto", "bind":
		addrArg, lenArg := 1, 2
		if name == "sendto" {
			addrArg, lenArg = 4, 5
		}
		n := int(min(args[lenArg], maxSockaddrLen))
		if args[addrArg] == 0 || n < 2 {
			return d, nil
		}
		buf, err := readBytes(p, tid, args[addrArg], n)
		if err != nil {
			return d, err
		}
		d.Path = decodeSockaddr(buf)
	}
	return d, nil
}

// Address families understood by decodeSockaddr.
const (
	afUnix  = 1
	afInet  = 2
	afInet6 = 10
)

// decodeSockaddr renders a raw sockaddr as "inet:1.2.3.4:80",
// "inet6:[::1]:443" or "unix:/path".
func decodeSockaddr(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	family := binary.NativeEndian.Uint16(b[0:2])
	switch family {
	case afInet:
		if len(b) < 8 {
			return ""
		}
		port := binary.BigEndian.Uint16(b[2:4])
		ip := netip.AddrFrom4([4]byte(b[4:8]))
		return "inet:" + netip.AddrPortFrom(ip, port).String()
	case afInet6:
		if len(b) < 24 {
			return ""
		}
		port := binary.BigEndian.Uint16(b[2:4])
		ip := netip.AddrFrom16([16]byte(b[8:24]))
		return "inet6:" + netip.AddrPortFrom(ip, port).String()
	case afUnix:
		path := b[2:]
		if i := bytes.IndexByte(path, 0); i >= 0 {
			path = path[:i]
		}
		return "unix:" + string(path)
	}
	return fmt.Sprintf("family:%d", family)
}

// RemoteAddr parses a decoded inet/inet6 Path back to an address.
func RemoteAddr(path string) (netip.AddrPort, bool) {
	var rest string
	switch {
	case len(path) > 5 && path[:5] == "inet:":
		rest = path[5:]
	case len(path) > 6 && path[:6] == "inet6:":
		rest = path[6:]
	default:
		return netip.AddrPort{}, false
	}
	ap, err := netip.ParseAddrPort(rest)
	return ap, err == nil
}
