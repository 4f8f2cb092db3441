//go:build linux

package native

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/GriffinCanCode/sentinel/internal/sandbox/tracer"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const maxInitStderr = 16 * 1024

// Launcher starts samples in fresh user, pid, mount, network, ipc and uts
// namespaces by re-executing the host binary as the sandbox init helper,
// then traces them.
type Launcher struct {
	initPath string
	uid, gid int
	tracer   tracer.Config
	logger   *zap.Logger
}

// NewLauncher creates a launcher from the sandbox config.
func NewLauncher(config Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	initPath := config.InitPath
	if initPath == "" {
		initPath = "/proc/self/exe"
	}
	return &Launcher{
		initPath: initPath,
		uid:      config.SandboxUID,
		gid:      config.SandboxGID,
		tracer:   config.Tracer,
		logger:   logger,
	}
}

type runResult struct {
	trace *tracer.Trace
	err   error
}

// Run implements Runner. The fork, trace and reap all happen on one locked
// OS thread.
func (l *Launcher) Run(ctx context.Context, spec RunSpec) (*tracer.Trace, error) {
	root := filepath.Join(spec.ScratchDir, "root")
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	payload, err := json.Marshal(initSpec{
		Root:     root,
		Work:     filepath.Join(spec.ScratchDir, "work"),
		Sample:   spec.Sample,
		ReadOnly: spec.ReadOnly,
		Limits:   spec.Limits,
		Policy:   spec.Policy,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	hostUID, hostGID := os.Getuid(), os.Getgid()
	if hostUID == 0 {
		hostUID, hostGID = l.uid, l.gid
		if err := chownTree(spec.ScratchDir, hostUID, hostGID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
		}
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	defer stderrR.Close()
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		stderrW.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	defer devNull.Close()

	var stderr bytes.Buffer
	stderrDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(&stderr, io.LimitReader(stderrR, maxInitStderr))
		_, _ = io.Copy(io.Discard, stderrR)
		close(stderrDone)
	}()

	attr := &syscall.ProcAttr{
		Dir:   "/",
		Env:   []string{},
		Files: []uintptr{devNull.Fd(), devNull.Fd(), stderrW.Fd()},
		Sys: &syscall.SysProcAttr{
			Ptrace: true,
			Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWPID | syscall.CLONE_NEWNS |
				syscall.CLONE_NEWNET | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS,
			UidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: hostUID, Size: 1}},
			GidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: hostGID, Size: 1}},
			Pdeathsig:   syscall.SIGKILL,
			Setsid:      true,
		},
	}
	argv := []string{initArg, initArg, string(payload)}

	done := make(chan runResult, 1)
	go func() {
		runtime.LockOSThread()

		pid, err := syscall.ForkExec(l.initPath, argv, attr)
		stderrW.Close()
		if err != nil {
			done <- runResult{err: fmt.Errorf("%w: fork: %v", ErrLaunch, err)}
			return // thread exits locked
		}

		stop := context.AfterFunc(ctx, func() { _ = unix.Kill(pid, unix.SIGKILL) })
		defer stop()

		tr := tracer.New(l.tracer, l.logger)
		if err := tr.Adopt(pid); err != nil {
			_ = unix.Kill(pid, unix.SIGKILL)
			done <- runResult{err: fmt.Errorf("%w: %v", ErrLaunch, err)}
			return
		}
		trace, err := tr.Monitor(spec.Timeout)
		if derr := tr.Detach(); derr != nil {
			l.logger.Debug("Tracer detach failed", zap.Error(derr))
		}
		_ = unix.Kill(pid, unix.SIGKILL)
		if err == nil {
			runtime.UnlockOSThread()
		}
		done <- runResult{trace: trace, err: err}
	}()

	res := <-done
	<-stderrDone
	if res.err != nil {
		return res.trace, res.err
	}
	if !res.trace.Started && res.trace.ExitCode == initFailureExit {
		return res.trace, fmt.Errorf("%w: init: %s", ErrLaunch, bytes.TrimSpace(stderr.Bytes()))
	}
	return res.trace, nil
}

func chownTree(dir string, uid, gid int) error {
	return filepath.WalkDir(dir, func(p string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, uid, gid)
	})
}
