package tracer

import (
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
)

// session pairs syscall entry and exit stops into events. It holds no OS
// resources; the platform loop feeds it register snapshots.
type session struct {
	cfg      Config
	start    time.Time
	now      func() time.Time
	inflight map[int]analysis.SyscallEvent
	fds      map[int]map[int64]string
	trace    Trace
}

func newSession(cfg Config, start time.Time) *session {
	return &session{
		cfg:      cfg,
		start:    start,
		now:      time.Now,
		inflight: make(map[int]analysis.SyscallEvent),
		fds:      make(map[int]map[int64]string),
	}
}

// pending reports whether tid is inside a recorded syscall.
func (s *session) pending(tid int) bool {
	_, ok := s.inflight[tid]
	return ok
}

// enter stashes an in-flight syscall. An entry that never saw its exit
// (exit_group, or a lost stop) is replaced.
func (s *session) enter(tid int, nr uint64, args [6]uint64, d decoded) {
	s.stash(tid, analysis.SyscallEvent{Number: nr, Name: SyscallName(nr), Args: args}, d)
}

// enterCompat is enter for an i386 syscall already resolved by
// compatEntry.
func (s *session) enterCompat(tid int, nr uint64, name string, args [6]uint64, d decoded) {
	s.stash(tid, analysis.SyscallEvent{Number: nr, Name: name, Args: args, Compat: true}, d)
}

func (s *session) stash(tid int, ev analysis.SyscallEvent, d decoded) {
	s.trace.EntriesObserved++
	ev.Timestamp = s.now().Sub(s.start)
	ev.PID = tid
	ev.Path = d.Path
	ev.Entropy = d.Entropy
	s.inflight[tid] = ev
}

// exit completes the in-flight syscall for tid. An exit with no recorded
// entry is dropped.
func (s *session) exit(tid int, ret int64) {
	ev, ok := s.inflight[tid]
	if !ok {
		s.trace.DroppedExits++
		return
	}
	delete(s.inflight, tid)
	ev.Return = ret
	s.trackFDs(&ev)
	annotate(&ev)

	if s.cfg.MaxEvents > 0 && len(s.trace.Events) >= s.cfg.MaxEvents {
		s.trace.DroppedEvents++
		return
	}
	s.trace.Events = append(s.trace.Events, ev)
}

// strayExit counts an exit stop seen with no entry.
func (s *session) strayExit() {
	s.trace.DroppedExits++
}

// forget discards state for a thread that exited.
func (s *session) forget(tid int) {
	delete(s.inflight, tid)
	delete(s.fds, tid)
}

// trackFDs keeps a per-thread descriptor table so writes can be tied to
// the file they land in.
func (s *session) trackFDs(ev *analysis.SyscallEvent) {
	switch ev.Name {
	case "open", "openat", "openat2", "creat":
		if ev.Return < 0 || ev.Path == "" {
			return
		}
		table := s.fds[ev.PID]
		if table == nil {
			table = make(map[int64]string)
			s.fds[ev.PID] = table
		}
		table[ev.Return] = ev.Path
	case "close":
		if ev.Return == 0 {
			delete(s.fds[ev.PID], int64(ev.Args[0]))
		}
	case "write", "pwrite64", "writev", "pwritev", "ftruncate", "fchmod":
		if ev.Path == "" {
			ev.Path = s.fds[ev.PID][int64(ev.Args[0])]
		}
	}
}

func (s *session) finish(end time.Time) *Trace {
	s.trace.Duration = end.Sub(s.start)
	t := s.trace
	return &t
}
