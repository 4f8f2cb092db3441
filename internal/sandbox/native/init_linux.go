//go:build linux

package native

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// MaybeRunInit runs the sandbox init helper and exits if the process was
// started as one. Call it first thing in main (and in TestMain).
func MaybeRunInit() {
	if len(os.Args) < 3 || os.Args[1] != initArg {
		return
	}
	if err := runInit([]byte(os.Args[2])); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox init: %v\n", err)
	}
	os.Exit(initFailureExit)
}

// runInit executes inside the new namespaces. On success it never returns.
func runInit(payload []byte) error {
	var spec initSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return fmt.Errorf("decode spec: %w", err)
	}
	if spec.Policy == nil {
		spec.Policy = DefaultPolicy()
	}
	filter, err := spec.Policy.Filter()
	if err != nil {
		return err
	}
	compat, err := spec.Policy.CompatFilter()
	if err != nil {
		return err
	}

	if err := setupRoot(spec); err != nil {
		return fmt.Errorf("rootfs: %w", err)
	}
	if err := unix.Sethostname([]byte("sandbox")); err != nil {
		return fmt.Errorf("sethostname: %w", err)
	}
	if err := applyLimits(spec.Limits); err != nil {
		return err
	}
	if err := dropCapabilities(); err != nil {
		return err
	}
	// the compat filter goes first: a default-deny main filter would
	// reject the seccomp call that installs it
	if err := seccomp.SetNoNewPrivs(); err != nil {
		return fmt.Errorf("no_new_privs: %w", err)
	}
	if err := loadRawFilter(compat); err != nil {
		return fmt.Errorf("seccomp compat filter: %w", err)
	}
	if err := seccomp.LoadFilter(filter); err != nil {
		return fmt.Errorf("seccomp: %w", err)
	}

	target := filepath.Join("/work", filepath.Base(spec.Sample))
	env := []string{"PATH=/usr/bin:/bin", "HOME=/work", "TMPDIR=/tmp", "LANG=C"}
	return unix.Exec(target, []string{target}, env)
}

// setupRoot builds a tmpfs root holding read-only binds of the runtime,
// the writable scratch area at /work and a private /tmp, then pivots into
// it.
func setupRoot(spec initSpec) error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make mounts private: %w", err)
	}
	root := spec.Root
	if err := unix.Mount("tmpfs", root, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "size=16m,mode=0755"); err != nil {
		return fmt.Errorf("mount root tmpfs: %w", err)
	}

	for _, src := range spec.ReadOnly {
		if err := bindReadOnly(src, filepath.Join(root, src)); err != nil {
			return err
		}
	}

	work := filepath.Join(root, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		return err
	}
	if err := unix.Mount(spec.Work, work, "", unix.MS_BIND|unix.MS_NOSUID|unix.MS_NODEV, ""); err != nil {
		return fmt.Errorf("bind scratch: %w", err)
	}

	tmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmp, 0o1777); err != nil {
		return err
	}
	if err := unix.Mount("tmpfs", tmp, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "size=64m,mode=1777"); err != nil {
		return fmt.Errorf("mount tmp: %w", err)
	}

	for _, dev := range []string{"/dev/null", "/dev/zero", "/dev/urandom"} {
		if err := bindDevice(dev, filepath.Join(root, dev)); err != nil {
			return err
		}
	}

	// proc for the new pid namespace; not fatal if the kernel refuses
	proc := filepath.Join(root, "proc")
	if err := os.MkdirAll(proc, 0o555); err == nil {
		_ = unix.Mount("proc", proc, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "")
	}

	old := filepath.Join(root, ".old")
	if err := os.MkdirAll(old, 0o700); err != nil {
		return err
	}
	if err := unix.PivotRoot(root, old); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return err
	}
	if err := unix.Unmount("/.old", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("detach old root: %w", err)
	}
	_ = os.Remove("/.old")
	return unix.Chdir("/work")
}

// bindReadOnly bind-mounts src at dst and remounts it read-only, keeping
// the locked flags of the source mount. Missing sources are skipped.
func bindReadOnly(src, dst string) error {
	fi, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := mountPoint(dst, fi.IsDir()); err != nil {
		return err
	}
	if err := unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind %s: %w", src, err)
	}

	var st unix.Statfs_t
	if err := unix.Statfs(src, &st); err != nil {
		return err
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	for _, f := range []struct{ st, ms uintptr }{
		{unix.ST_NOSUID, unix.MS_NOSUID},
		{unix.ST_NODEV, unix.MS_NODEV},
		{unix.ST_NOEXEC, unix.MS_NOEXEC},
		{unix.ST_NOATIME, unix.MS_NOATIME},
		{unix.ST_RELATIME, unix.MS_RELATIME},
	} {
		if uintptr(st.Flags)&f.st != 0 {
			flags |= f.ms
		}
	}
	if err := unix.Mount("", dst, "", flags, ""); err != nil {
		return fmt.Errorf("remount %s read-only: %w", src, err)
	}
	return nil
}

func bindDevice(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return nil
	}
	if err := mountPoint(dst, false); err != nil {
		return err
	}
	if err := unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_NOSUID, ""); err != nil {
		return fmt.Errorf("bind %s: %w", src, err)
	}
	return nil
}

func mountPoint(dst string, dir bool) error {
	if dir {
		return os.MkdirAll(dst, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func applyLimits(l Limits) error {
	const mb = 1 << 20
	limits := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"address space", unix.RLIMIT_AS, l.AddressSpaceMB * mb},
		{"cpu", unix.RLIMIT_CPU, l.CPUSeconds},
		{"file size", unix.RLIMIT_FSIZE, l.FileSizeMB * mb},
		{"open files", unix.RLIMIT_NOFILE, l.OpenFiles},
		{"processes", unix.RLIMIT_NPROC, l.Processes},
		{"core", unix.RLIMIT_CORE, 0},
	}
	for _, lim := range limits {
		if lim.value == 0 && lim.resource != unix.RLIMIT_CORE {
			continue
		}
		rl := unix.Rlimit{Cur: lim.value, Max: lim.value}
		if err := unix.Setrlimit(lim.resource, &rl); err != nil {
			return fmt.Errorf("rlimit %s: %w", lim.name, err)
		}
	}
	return nil
}

// dropCapabilities empties the bounding and ambient sets so the exec'd
// sample holds no capabilities even as namespace root.
func dropCapabilities() error {
	for c := 0; c <= unix.CAP_LAST_CAP; c++ {
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(c), 0, 0, 0); err != nil && !errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("drop capability %d: %w", c, err)
		}
	}
	if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL, 0, 0, 0); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("clear ambient capabilities: %w", err)
	}
	return nil
}

// loadRawFilter installs an assembled BPF program on every thread.
func loadRawFilter(prog []bpf.Instruction) error {
	if len(prog) == 0 {
		return nil
	}
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return err
	}
	filters := make([]unix.SockFilter, len(raw))
	for i, r := range raw {
		filters[i] = unix.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(filters)), Filter: &filters[0]}
	tid, _, errno := unix.Syscall(unix.SYS_SECCOMP, unix.SECCOMP_SET_MODE_FILTER,
		unix.SECCOMP_FILTER_FLAG_TSYNC, uintptr(unsafe.Pointer(&fprog)))
	runtime.KeepAlive(filters)
	if errno != 0 {
		return errno
	}
	if tid != 0 {
		return fmt.Errorf("thread %d could not be synchronized", tid)
	}
	return nil
}
