package native

import (
	"github.com/GriffinCanCode/sentinel/internal/analysis"
)

// Sub-score weights. They sum to 1.
const (
	weightFileSystem = 0.40
	weightProcess    = 0.30
	weightNetwork    = 0.15
	weightSystem     = 0.10
	weightMemory     = 0.05
)

func perSecond(n uint32, seconds float32) float32 {
	return float32(n) / seconds
}

// subScores computes the five category scores, each clamped to [0, 1].
func subScores(m analysis.BehavioralMetrics) analysis.ThreatScores {
	seconds := max(1, float32(m.ExecutionTime.Seconds()))
	return analysis.ThreatScores{
		FileSystem: analysis.Clamp01(fileScore(m, seconds)),
		Process:    analysis.Clamp01(processScore(m, seconds)),
		Network:    analysis.Clamp01(networkScore(m)),
		System:     analysis.Clamp01(systemScore(m)),
		Memory:     analysis.Clamp01(memoryScore(m)),
	}
}

func fileScore(m analysis.BehavioralMetrics, seconds float32) float32 {
	var s float32
	switch rate := perSecond(m.FileOperations, seconds); {
	case rate > 200:
		s = 0.9
	case rate > 50:
		s = 0.6
	case rate > 20:
		s = 0.3
	case m.FileOperations > 50:
		s = 0.2
	}

	switch {
	case m.FileOperations > 500:
		s = max(s, 0.9)
	case m.FileOperations > 100:
		s = max(s, 0.7)
	}
	if m.HighEntropyWrites >= 10 {
		s = max(s, 0.7) + 0.1
	} else if m.HighEntropyWrites > 0 {
		s = max(s, 0.3)
	}
	if m.FileRenames > 10 || m.FileDeletes > 10 {
		s += 0.1
	}

	if m.ExecutableDrops > 3 {
		s = max(s, 0.7)
	} else if m.ExecutableDrops > 0 {
		s = max(s, 0.4)
	}
	if m.PersistenceWrites > 0 {
		s = max(s, 0.6)
	}
	if m.HiddenFileCreates > 0 {
		s = max(s, 0.2)
	}
	if m.TempFileCreates > 5 {
		s = max(s, 0.25)
	}
	return s
}

func processScore(m analysis.BehavioralMetrics, seconds float32) float32 {
	var s float32
	switch {
	case m.InjectionAttempts > 3:
		s = 1
	case m.InjectionAttempts > 1:
		s = 0.8
	case m.InjectionAttempts == 1:
		s = 0.6
	}

	switch rate := perSecond(m.ProcessOperations, seconds); {
	case rate > 50:
		s = max(s, 0.8)
	case rate > 10:
		s = max(s, 0.5)
	case m.ProcessOperations > 5:
		s = max(s, 0.3)
	case m.ProcessOperations > 0:
		s = max(s, 0.1)
	}
	return s
}

func networkScore(m analysis.BehavioralMetrics) float32 {
	var s float32
	if m.NetworkOperations > 0 {
		ratio := float32(m.OutboundConnections) / float32(m.NetworkOperations)
		switch {
		case ratio > 0.3 && m.OutboundConnections > 10:
			s = 0.8
		case ratio > 0.3 && m.OutboundConnections >= 3:
			s = 0.5
		case m.OutboundConnections >= 5:
			s = 0.3
		case m.OutboundConnections >= 2:
			s = 0.15
		case m.OutboundConnections == 1:
			s = 0.1
		}
	}
	return s
}

func systemScore(m analysis.BehavioralMetrics) float32 {
	var s float32
	switch {
	case m.PrivilegeEscalationAttempts > 5:
		s = 1
	case m.PrivilegeEscalationAttempts > 1:
		s = 0.85
	case m.PrivilegeEscalationAttempts == 1:
		s = 0.7
	}
	if m.KernelInterfaceAccess > 0 {
		s = max(s, 0.6)
	}
	if m.DeniedSyscalls > 0 {
		s = max(s, 0.5)
	}
	return s
}

func memoryScore(m analysis.BehavioralMetrics) float32 {
	var s float32
	switch {
	case m.MemoryOperations > 100:
		s = 0.7
	case m.MemoryOperations > 20:
		s = 0.4
	}
	if m.RWXMappings > 0 {
		s = max(s, 0.8)
	}
	return s
}

// threatScore weights the sub-scores and clamps the sum.
func threatScore(s analysis.ThreatScores) float32 {
	return analysis.Clamp01(weightFileSystem*s.FileSystem +
		weightProcess*s.Process +
		weightNetwork*s.Network +
		weightSystem*s.System +
		weightMemory*s.Memory)
}
