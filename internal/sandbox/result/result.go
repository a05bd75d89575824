// Package result defines sandbox execution results and verdicts.
package result

import (
	"time"

	"judgecore/internal/sandbox/spec"
)

// ExitKind is the terminal status of one run.
type ExitKind string

const (
	Exited         ExitKind = "Exited"
	Signaled       ExitKind = "Signaled"
	TimedOut       ExitKind = "TimedOut"
	MemoryExceeded ExitKind = "MemoryExceeded"
	OutputExceeded ExitKind = "OutputExceeded"
)

// Verdict represents the final outcome of one test case.
type Verdict string

const (
	Accepted            Verdict = "Accepted"
	WrongAnswer         Verdict = "WrongAnswer"
	RuntimeError        Verdict = "RuntimeError"
	TimeLimitExceeded   Verdict = "TimeLimitExceeded"
	MemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	OutputLimitExceeded Verdict = "OutputLimitExceeded"
	CompileError        Verdict = "CompileError"
	SystemError         Verdict = "SystemError"
)

var shortNames = map[Verdict]string{
	Accepted:            "AC",
	WrongAnswer:         "WA",
	RuntimeError:        "RE",
	TimeLimitExceeded:   "TLE",
	MemoryLimitExceeded: "MLE",
	OutputLimitExceeded: "OLE",
	CompileError:        "CE",
	SystemError:         "SE",
}

// Short returns the two or three letter abbreviation.
func (v Verdict) Short() string {
	if s, ok := shortNames[v]; ok {
		return s
	}
	return "SE"
}

// ExecutionResult captures what one sandboxed run did.
type ExecutionResult struct {
	RunID           string
	Status          ExitKind
	ExitCode        int
	Signal          int
	Stdout          string
	StdoutTruncated bool
	Stderr          string
	StderrTruncated bool
	WallTimeMs      int64
	CPUTimeMs       int64
	MemoryBytes     int64
}

// Normal reports whether the program exited on its own with status zero.
func (r ExecutionResult) Normal() bool {
	return r.Status == Exited && r.ExitCode == 0
}

// Observation is the raw measurement a backend collects for one finished run.
type Observation struct {
	ExitCode        int
	Signal          int
	WallTimedOut    bool
	OOMKilled       bool
	OutputOverflow  bool
	WallTime        time.Duration
	CPUTimeMs       int64
	PeakMemoryBytes int64
	Stdout          string
	Stderr          string
	StderrTruncated bool
}

// Linux signal numbers raised by RLIMIT_CPU and RLIMIT_FSIZE.
const (
	sigXCPU = 24
	sigXFSZ = 25
)

// Build classifies an observation and clamps its figures to limits.
// limits must already carry the effective wall deadline.
func Build(runID string, obs Observation, limits spec.ResourceLimit) ExecutionResult {
	res := ExecutionResult{
		RunID:           runID,
		Status:          Classify(obs, limits),
		ExitCode:        obs.ExitCode,
		Signal:          obs.Signal,
		Stdout:          obs.Stdout,
		StdoutTruncated: obs.OutputOverflow,
		Stderr:          obs.Stderr,
		StderrTruncated: obs.StderrTruncated,
		WallTimeMs:      clamp(obs.WallTime.Milliseconds(), limits.WallTimeMs),
		CPUTimeMs:       clamp(obs.CPUTimeMs, limits.CPUTimeMs),
		MemoryBytes:     clamp(obs.PeakMemoryBytes, limits.MemoryBytes),
	}
	return res
}

// Classify picks exactly one terminal status.
// Priority: TimedOut > MemoryExceeded > OutputExceeded > Signaled > Exited.
func Classify(obs Observation, limits spec.ResourceLimit) ExitKind {
	switch {
	case obs.WallTimedOut,
		obs.Signal == sigXCPU,
		limits.CPUTimeMs > 0 && obs.CPUTimeMs > limits.CPUTimeMs:
		return TimedOut
	case obs.OOMKilled,
		limits.MemoryBytes > 0 && obs.PeakMemoryBytes > limits.MemoryBytes:
		return MemoryExceeded
	case obs.OutputOverflow, obs.Signal == sigXFSZ:
		return OutputExceeded
	case obs.Signal != 0:
		return Signaled
	default:
		return Exited
	}
}

func clamp(v, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}
