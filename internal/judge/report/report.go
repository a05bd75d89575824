// Package report turns sandbox results into the structured records emitted by the judge.
package report

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"judgecore/internal/sandbox/result"
	appErr "judgecore/pkg/errors"
)

const (
	DefaultMaxMessageBytes = 1024
	DefaultMaxOutputBytes  = 4096

	truncatedMarker = "[...]"
	systemFaultText = "System Error: judge fault while building the report"
)

// Payload is the per-case outcome handed to callers.
type Payload struct {
	Verdict     result.Verdict `json:"verdict"`
	RuntimeMs   int64          `json:"runtime_ms"`
	MemoryBytes int64          `json:"memory_bytes"`
	CPUTimeMs   int64          `json:"cpu_time_ms"`
	ExitCode    int            `json:"exit_code"`
	Message     string         `json:"message,omitempty"`
	Output      string         `json:"output"`
}

// Reporter caps diagnostics to fixed sizes.
type Reporter struct {
	MaxMessageBytes int
	MaxOutputBytes  int
}

// NewReporter creates a reporter. Non-positive caps fall back to the defaults.
func NewReporter(maxMessageBytes, maxOutputBytes int) Reporter {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return Reporter{MaxMessageBytes: maxMessageBytes, MaxOutputBytes: maxOutputBytes}
}

// Report builds a payload with the default caps.
func Report(res result.ExecutionResult, v result.Verdict) Payload {
	return NewReporter(0, 0).Report(res, v, "")
}

// Report builds the payload for one evaluated run. note is the evaluator's
// mismatch or failure note and may be empty. It never panics.
func (r Reporter) Report(res result.ExecutionResult, v result.Verdict, note string) (p Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			p = Payload{Verdict: result.SystemError, Message: systemFaultText}
		}
	}()
	r = NewReporter(r.MaxMessageBytes, r.MaxOutputBytes)
	return Payload{
		Verdict:     v,
		RuntimeMs:   nonNegative(res.WallTimeMs),
		MemoryBytes: nonNegative(res.MemoryBytes),
		CPUTimeMs:   nonNegative(res.CPUTimeMs),
		ExitCode:    res.ExitCode,
		Message:     Truncate(failureMessage(res, v, note), r.MaxMessageBytes),
		Output:      Truncate(res.Stdout, r.MaxOutputBytes),
	}
}

// Failure builds the payload for a run that could not be judged.
func (r Reporter) Failure(err error, runtimeMs int64) Payload {
	r = NewReporter(r.MaxMessageBytes, r.MaxOutputBytes)
	v := result.Verdict(appErr.Category(err))
	msg := Title(v)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return Payload{
		Verdict:   v,
		RuntimeMs: nonNegative(runtimeMs),
		ExitCode:  -1,
		Message:   Truncate(msg, r.MaxMessageBytes),
	}
}

var titles = map[result.Verdict]string{
	result.Accepted:            "Accepted",
	result.WrongAnswer:         "Wrong Answer",
	result.RuntimeError:        "Runtime Error",
	result.TimeLimitExceeded:   "Time Limit Exceeded",
	result.MemoryLimitExceeded: "Memory Limit Exceeded",
	result.OutputLimitExceeded: "Output Limit Exceeded",
	result.CompileError:        "Compilation Error",
	result.SystemError:         "System Error",
}

// Title is the human-readable verdict name.
func Title(v result.Verdict) string {
	if t, ok := titles[v]; ok {
		return t
	}
	return titles[result.SystemError]
}

func failureMessage(res result.ExecutionResult, v result.Verdict, note string) string {
	switch v {
	case result.Accepted:
		return ""
	case result.WrongAnswer:
		return joinNonEmpty(": ", Title(v), note)
	case result.RuntimeError:
		head := joinNonEmpty(": ", Title(v), note)
		return joinNonEmpty("\n", head, strings.TrimSpace(res.Stderr))
	case result.CompileError:
		return joinNonEmpty("\n", Title(v), strings.TrimSpace(res.Stderr))
	case result.TimeLimitExceeded, result.MemoryLimitExceeded, result.OutputLimitExceeded:
		return Title(v)
	default:
		return joinNonEmpty(": ", Title(result.SystemError), note)
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// Truncate caps s at max bytes without splitting a UTF-8 sequence and marks the cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - len(truncatedMarker)
	if cut <= 0 {
		return truncatedMarker[:max]
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// String renders the payload for human-readable logs.
func (p Payload) String() string {
	return fmt.Sprintf("%s %dms %dB exit=%d", p.Verdict.Short(), p.RuntimeMs, p.MemoryBytes, p.ExitCode)
}
