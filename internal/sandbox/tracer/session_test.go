package tracer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nr(t *testing.T, name string) uint64 {
	t.Helper()
	n, ok := SyscallNumber(name)
	if !ok {
		t.Skipf("syscall %s unknown on this architecture", name)
	}
	return n
}

func TestSessionPairs(t *testing.T) {
	s := newSession(DefaultConfig(), time.Now())
	openat := nr(t, "openat")

	s.enter(10, openat, [6]uint64{0, 0x1000}, decoded{Path: "/tmp/a"})
	assert.True(t, s.pending(10))
	s.exit(10, 3)
	assert.False(t, s.pending(10))

	tr := s.finish(time.Now())
	require.Len(t, tr.Events, 1)
	ev := tr.Events[0]
	assert.Equal(t, "openat", ev.Name)
	assert.Equal(t, analysis.CategoryFileIO, ev.Category)
	assert.Equal(t, "/tmp/a", ev.Path)
	assert.Equal(t, int64(3), ev.Return)
	assert.Equal(t, 10, ev.PID)
}

func TestSessionDropsExitWithoutEntry(t *testing.T) {
	s := newSession(DefaultConfig(), time.Now())
	s.exit(42, 0)
	s.strayExit()

	tr := s.finish(time.Now())
	assert.Empty(t, tr.Events)
	assert.Equal(t, 2, tr.DroppedExits)
	assert.Zero(t, tr.EntriesObserved)
}

func TestSessionReplacesLostEntry(t *testing.T) {
	s := newSession(DefaultConfig(), time.Now())
	s.enter(1, nr(t, "exit_group"), [6]uint64{}, decoded{})
	s.enter(1, nr(t, "getpid"), [6]uint64{}, decoded{})
	s.exit(1, 1)

	tr := s.finish(time.Now())
	require.Len(t, tr.Events, 1)
	assert.Equal(t, "getpid", tr.Events[0].Name)
	assert.Equal(t, 2, tr.EntriesObserved)
}

func TestSessionTracksWritesToOpenedFiles(t *testing.T) {
	s := newSession(DefaultConfig(), time.Now())
	s.enter(5, nr(t, "openat"), [6]uint64{}, decoded{Path: "/home/u/.bashrc"})
	s.exit(5, 7)
	s.enter(5, nr(t, "write"), [6]uint64{7, 0x2000, 64}, decoded{Entropy: 7.9})
	s.exit(5, 64)
	s.enter(5, nr(t, "close"), [6]uint64{7}, decoded{})
	s.exit(5, 0)
	s.enter(5, nr(t, "write"), [6]uint64{7, 0x2000, 64}, decoded{})
	s.exit(5, -9)

	tr := s.finish(time.Now())
	require.Len(t, tr.Events, 4)
	assert.Equal(t, "/home/u/.bashrc", tr.Events[1].Path)
	assert.True(t, tr.Events[1].Suspicious)
	assert.InDelta(t, 7.9, tr.Events[1].Entropy, 1e-9)
	assert.Empty(t, tr.Events[3].Path)
	assert.True(t, tr.Events[3].Failed())
}

func TestSessionMaxEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 3
	s := newSession(cfg, time.Now())
	getpid := nr(t, "getpid")
	for i := 0; i < 5; i++ {
		s.enter(1, getpid, [6]uint64{}, decoded{})
		s.exit(1, 1)
	}
	tr := s.finish(time.Now())
	assert.Len(t, tr.Events, 3)
	assert.Equal(t, 2, tr.DroppedEvents)
}

// Random interleavings of entries and exits across threads never record
// more pairs than entries observed.
func TestSessionPairsNeverExceedEntries(t *testing.T) {
	getpid := nr(t, "getpid")
	r := rand.New(rand.NewSource(99))
	for round := 0; round < 200; round++ {
		s := newSession(DefaultConfig(), time.Now())
		for i := 0; i < 100; i++ {
			tid := r.Intn(4)
			switch r.Intn(3) {
			case 0:
				s.enter(tid, getpid, [6]uint64{}, decoded{})
			case 1:
				s.exit(tid, 0)
			default:
				s.forget(tid)
			}
		}
		tr := s.finish(time.Now())
		require.LessOrEqual(t, len(tr.Events), tr.EntriesObserved)
	}
}
