//go:build linux && amd64

package tracer

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const traceOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_EXITKILL

// rax holds -ENOSYS at a syscall-entry stop on x86-64.
const enosys = ^uint64(uint64(unix.ENOSYS) - 1)

// compatCS is the user code segment selector of a 32-bit task.
const compatCS = 0x23

// Tracer follows one process tree with ptrace. It is owned by the OS thread
// that attached: the caller must hold runtime.LockOSThread from Attach (or
// from starting the child, for Adopt) until Detach.
type Tracer struct {
	config Config
	logger *zap.Logger

	state    state
	pid      int
	owner    int
	fromExec bool
	live     map[int]bool
	// noInfo is set once PTRACE_GET_SYSCALL_INFO is found unsupported.
	noInfo bool
}

// New creates an idle tracer.
func New(config Config, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{config: config, logger: logger}
}

// Attach takes over a running process with PTRACE_ATTACH and records from
// the first syscall after the attach stop.
func (t *Tracer) Attach(pid int) error {
	if t.state != stateIdle {
		return ErrAlreadyAttached
	}
	if err := unix.PtraceAttach(pid); err != nil {
		return fmt.Errorf("ptrace attach %d: %w", pid, err)
	}
	if err := t.awaitStop(pid); err != nil {
		return err
	}
	return t.bind(pid, false)
}

// Adopt takes over a child started with SysProcAttr.Ptrace. The child is
// stopped after its first exec, which is the sandbox init helper; recording
// starts at the next exec, when the sample itself is loaded.
func (t *Tracer) Adopt(pid int) error {
	if t.state != stateIdle {
		return ErrAlreadyAttached
	}
	if err := t.awaitStop(pid); err != nil {
		return err
	}
	return t.bind(pid, true)
}

func (t *Tracer) awaitStop(pid int) error {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, unix.WALL, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait for tracee %d: %w", pid, err)
		}
		break
	}
	if !ws.Stopped() {
		return fmt.Errorf("tracee %d did not stop (status %#x)", pid, uint32(ws))
	}
	return nil
}

func (t *Tracer) bind(pid int, fromExec bool) error {
	if err := unix.PtraceSetOptions(pid, traceOptions); err != nil {
		return fmt.Errorf("ptrace set options: %w", err)
	}
	t.state, t.pid, t.owner, t.fromExec = stateAttached, pid, unix.Gettid(), fromExec
	t.live = map[int]bool{pid: true}
	return nil
}

func (t *Tracer) checkOwner() error {
	if unix.Gettid() != t.owner {
		return ErrWrongThread
	}
	return nil
}

// Monitor resumes the tracee and records syscalls until the whole tree has
// exited or timeout elapses. On timeout the root is killed and the loop
// drains the remaining exits; the partial trace is returned with TimedOut
// set, not as an error.
func (t *Tracer) Monitor(timeout time.Duration) (*Trace, error) {
	if t.state != stateAttached {
		return nil, ErrNotAttached
	}
	if err := t.checkOwner(); err != nil {
		return nil, err
	}
	t.state = stateMonitoring

	start := time.Now()
	s := newSession(t.config, start)
	recording := !t.fromExec
	seen := map[int]bool{t.pid: true}

	resume := func(tid, sig int) {
		var err error
		if recording {
			err = unix.PtraceSyscall(tid, sig)
		} else {
			err = unix.PtraceCont(tid, sig)
		}
		if err != nil && !errors.Is(err, unix.ESRCH) {
			t.logger.Debug("Failed to resume tracee", zap.Int("tid", tid), zap.Error(err))
		}
	}
	resume(t.pid, 0)

	deadline := start.Add(timeout)
	backoff := t.config.PollInterval
	killed := false
	var loopErr error

	for len(t.live) > 0 {
		if !killed && time.Now().After(deadline) {
			s.trace.TimedOut = true
			killed = true
			_ = unix.Kill(t.pid, unix.SIGKILL)
		}

		var ws unix.WaitStatus
		wpid, err := unix.Wait4(-1, &ws, unix.WALL|unix.WNOHANG|unix.WNOTHREAD, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.ECHILD) {
			break
		}
		if err != nil {
			loopErr = fmt.Errorf("wait4: %w", err)
			break
		}
		if wpid == 0 {
			time.Sleep(backoff)
			backoff = min(backoff*2, t.config.MaxPollInterval)
			continue
		}
		backoff = t.config.PollInterval

		if ws.Exited() || ws.Signaled() {
			delete(t.live, wpid)
			s.forget(wpid)
			if wpid == t.pid {
				if ws.Signaled() {
					s.trace.Signaled = true
					s.trace.ExitCode = 128 + int(ws.Signal())
				} else {
					s.trace.ExitCode = ws.ExitStatus()
				}
			}
			continue
		}
		if !ws.Stopped() {
			continue
		}

		t.live[wpid] = true
		sig := ws.StopSignal()
		switch {
		case sig == unix.SIGTRAP|0x80:
			if recording {
				t.syscallStop(s, wpid)
			}
			resume(wpid, 0)

		case sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_EXEC:
			recording = true
			resume(wpid, 0)

		case sig == unix.SIGTRAP && ws.TrapCause() > 0:
			// fork, vfork and clone events name the new tracee
			if msg, err := unix.PtraceGetEventMsg(wpid); err == nil {
				t.live[int(msg)] = true
			}
			resume(wpid, 0)

		case sig == unix.SIGSTOP && !seen[wpid]:
			// initial stop of an auto-attached child
			seen[wpid] = true
			resume(wpid, 0)

		case sig == unix.SIGTRAP, sig == unix.SIGSTOP, sig == unix.SIGTSTP,
			sig == unix.SIGTTIN, sig == unix.SIGTTOU:
			// stop signals are suppressed so the tracee cannot park itself
			resume(wpid, 0)

		default:
			resume(wpid, int(sig))
		}
		seen[wpid] = true
	}

	s.trace.Started = recording
	return s.finish(time.Now()), loopErr
}

func (t *Tracer) syscallStop(s *session, tid int) {
	st, ok := t.readStop(tid, s.pending(tid))
	if !ok {
		return
	}
	switch {
	case st.exit && s.pending(tid):
		s.exit(tid, st.ret)
		return
	case !st.entry:
		s.strayExit()
		return
	}

	name, args := SyscallName(st.nr), st.args
	var err error
	if st.compat {
		name, args, err = compatEntry(ptracePeeker{}, tid, st.nr, st.args)
	}
	var d decoded
	if err == nil {
		d, err = decodeEntry(ptracePeeker{}, tid, name, args, t.config)
	}
	if err != nil {
		s.trace.BoundaryViolations++
		t.logger.Error("Tracee memory boundary violation",
			zap.Bool("security_event", true),
			zap.String("boundary", "tracee_string"),
			zap.Int("tid", tid),
			zap.String("syscall", name),
			zap.Bool("compat", st.compat),
			zap.Error(err))
	}
	if st.compat {
		s.enterCompat(tid, st.nr, name, args, d)
		return
	}
	s.enter(tid, st.nr, args, d)
}

// stopInfo describes one syscall stop in ABI-neutral terms.
type stopInfo struct {
	entry, exit bool
	compat      bool // i386 ABI: a 32-bit task, or int 0x80 from 64-bit code
	nr          uint64
	args        [6]uint64
	ret         int64
}

// syscallInfo mirrors struct ptrace_syscall_info. The union holds either
// the entry (nr, args) or the exit (rval, is_error).
type syscallInfo struct {
	Op      uint8
	_       [3]uint8
	Arch    uint32
	IP      uint64
	SP      uint64
	Nr      uint64
	Args    [6]uint64
	RetData uint32
	_       uint32
}

// readStop prefers PTRACE_GET_SYSCALL_INFO, which names the ABI of each
// call, and falls back to the register file on kernels without it.
func (t *Tracer) readStop(tid int, pending bool) (stopInfo, bool) {
	if !t.noInfo {
		var info syscallInfo
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GET_SYSCALL_INFO,
			uintptr(tid), unsafe.Sizeof(info), uintptr(unsafe.Pointer(&info)), 0, 0)
		switch errno {
		case 0:
			return stopFromInfo(&info), true
		case unix.EIO, unix.EINVAL:
			t.noInfo = true
		default:
			return stopInfo{}, false
		}
	}
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return stopInfo{}, false
	}
	return stopFromRegs(&regs, pending), true
}

func stopFromInfo(info *syscallInfo) stopInfo {
	st := stopInfo{compat: info.Arch == unix.AUDIT_ARCH_I386}
	switch info.Op {
	case unix.PTRACE_SYSCALL_INFO_ENTRY:
		st.entry, st.nr, st.args = true, info.Nr, info.Args
	case unix.PTRACE_SYSCALL_INFO_EXIT:
		// rval shares storage with nr
		st.exit, st.ret = true, int64(info.Nr)
	}
	return st
}

// stopFromRegs infers the stop kind from the register file. Entry stops
// carry -ENOSYS in rax; for a 32-bit task only the low half is meaningful.
func stopFromRegs(regs *unix.PtraceRegs, pending bool) stopInfo {
	compat := regs.Cs == compatCS
	if pending {
		ret := int64(regs.Rax)
		if compat {
			ret = int64(int32(regs.Rax))
		}
		return stopInfo{exit: true, compat: compat, ret: ret}
	}
	if compat {
		if uint32(regs.Rax) != uint32(enosys&0xffffffff) {
			return stopInfo{exit: true, compat: true}
		}
		return stopInfo{
			entry:  true,
			compat: true,
			nr:     uint64(uint32(regs.Orig_rax)),
			args:   [6]uint64{regs.Rbx, regs.Rcx, regs.Rdx, regs.Rsi, regs.Rdi, regs.Rbp},
		}
	}
	if regs.Rax != enosys {
		return stopInfo{exit: true}
	}
	return stopInfo{
		entry: true,
		nr:    regs.Orig_rax,
		args:  [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9},
	}
}

// Detach releases any tracee still alive. It is safe to call after the
// tree has exited.
func (t *Tracer) Detach() error {
	if t.state == stateIdle || t.state == stateDone {
		return ErrNotAttached
	}
	if err := t.checkOwner(); err != nil {
		return err
	}
	var errs []error
	for tid := range t.live {
		if err := unix.PtraceDetach(tid); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("detach %d: %w", tid, err))
		}
	}
	t.live = nil
	t.state = stateDone
	return errors.Join(errs...)
}

type ptracePeeker struct{}

func (ptracePeeker) peek(tid int, addr uintptr, out []byte) (int, error) {
	return unix.PtracePeekData(tid, addr, out)
}
