/*
Package tracer records the syscalls of a process tree with ptrace.

A Tracer is single-use and thread-affine. The OS thread that attaches owns
the tracee; Monitor and Detach from any other thread fail with
ErrWrongThread. Callers pin the goroutine with runtime.LockOSThread for the
whole attach, monitor, detach sequence.

Monitor polls wait4 without blocking and feeds each syscall stop to a
session, which pairs entries with exits. Syscall context (paths, socket
addresses, sampled write buffers) is decoded at entry while tracee pointers
are valid; tracee strings are capped at Config.MaxStringBytes.

Only linux/amd64 is supported. Elsewhere every operation returns
ErrUnsupported.
*/
package tracer
