// Package native is the Tier 2 sandbox. It writes a sample into a scratch
// directory, runs it under fresh user, pid, mount, network, ipc and uts
// namespaces with rlimits and a seccomp policy, traces every syscall and
// folds the trace into BehavioralMetrics.
//
// The sandbox init runs inside the host binary: the launcher re-executes
// it with a marker argument, and MaybeRunInit (called first in main)
// performs mount setup, pivot_root, rlimits, capability drop and seccomp
// before executing the sample. The tracer adopts the child at fork and
// begins recording at the sample's exec.
//
// Scoring weights file, process, network, system and memory behavior
// 0.40/0.30/0.15/0.10/0.05. Runs that time out are floored at
// Config.TimeoutFloor; runs that cannot be observed score
// Config.LaunchFailureScore.
package native
