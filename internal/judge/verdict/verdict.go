// Package verdict compares a finished run against the expected answer.
package verdict

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"judgecore/internal/sandbox/result"
	appErr "judgecore/pkg/errors"
)

// Mode selects how stdout is compared with the expected answer.
type Mode string

const (
	ModeExact         Mode = "exact"
	ModeTrimmed       Mode = "trimmed"
	ModeFloatTolerant Mode = "float-tolerant"
)

// DefaultEpsilon is used by float-tolerant comparison when Options.Epsilon is zero.
const DefaultEpsilon = 1e-6

// maxNoteToken bounds how much of a token or line is quoted in a note.
const maxNoteToken = 64

// Options configures Evaluate.
type Options struct {
	Mode    Mode    `json:"mode" yaml:"mode" toml:"mode"`
	Epsilon float64 `json:"epsilon" yaml:"epsilon" toml:"epsilon"`
}

// ParseMode maps a configuration string to a Mode. Empty means trimmed.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ModeTrimmed, nil
	case ModeExact:
		return ModeExact, nil
	case ModeTrimmed:
		return ModeTrimmed, nil
	case ModeFloatTolerant, "float":
		return ModeFloatTolerant, nil
	default:
		return "", appErr.ValidationError("mode", "unknown compare mode "+s)
	}
}

// Evaluate decides the verdict of one run. The note names the first difference
// when the answer is wrong and is empty otherwise.
func Evaluate(res result.ExecutionResult, expected string, opts Options) (result.Verdict, string) {
	switch res.Status {
	case result.TimedOut:
		return result.TimeLimitExceeded, ""
	case result.MemoryExceeded:
		return result.MemoryLimitExceeded, ""
	case result.OutputExceeded:
		return result.OutputLimitExceeded, ""
	case result.Signaled:
		return result.RuntimeError, fmt.Sprintf("killed by signal %d", res.Signal)
	}
	if res.ExitCode != 0 {
		return result.RuntimeError, fmt.Sprintf("exit code %d", res.ExitCode)
	}

	var note string
	switch opts.Mode {
	case ModeExact:
		note = compareExact(res.Stdout, expected)
	case ModeFloatTolerant:
		eps := opts.Epsilon
		if eps <= 0 {
			eps = DefaultEpsilon
		}
		note = compareFloat(res.Stdout, expected, eps)
	default:
		note = compareTrimmed(res.Stdout, expected)
	}
	if note != "" {
		return result.WrongAnswer, note
	}
	return result.Accepted, ""
}

func compareExact(actual, expected string) string {
	if actual == expected {
		return ""
	}
	n := min(len(actual), len(expected))
	i := 0
	for i < n && actual[i] == expected[i] {
		i++
	}
	line := strings.Count(expected[:i], "\n") + 1
	if i == n {
		if len(actual) < len(expected) {
			return fmt.Sprintf("line %d: output ends early at byte %d", line, i)
		}
		return fmt.Sprintf("line %d: extra output at byte %d", line, i)
	}
	return fmt.Sprintf("line %d: byte %d differs", line, i)
}

// normalizeLines applies CRLF normalisation, strips trailing whitespace on
// every line and drops trailing blank lines.
func normalizeLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func compareTrimmed(actual, expected string) string {
	got := normalizeLines(actual)
	want := normalizeLines(expected)
	for i := 0; i < len(got) && i < len(want); i++ {
		if got[i] != want[i] {
			return fmt.Sprintf("line %d: expected %q, got %q", i+1, shorten(want[i]), shorten(got[i]))
		}
	}
	switch {
	case len(got) < len(want):
		return fmt.Sprintf("line %d: expected %q, got end of output", len(got)+1, shorten(want[len(got)]))
	case len(got) > len(want):
		return fmt.Sprintf("line %d: unexpected extra output %q", len(want)+1, shorten(got[len(want)]))
	}
	return ""
}

func compareFloat(actual, expected string, eps float64) string {
	got := strings.Fields(actual)
	want := strings.Fields(expected)
	for i := 0; i < len(got) && i < len(want); i++ {
		if !tokensEqual(got[i], want[i], eps) {
			return fmt.Sprintf("token %d: expected %q, got %q", i+1, shorten(want[i]), shorten(got[i]))
		}
	}
	switch {
	case len(got) < len(want):
		return fmt.Sprintf("token %d: expected %q, got end of output", len(got)+1, shorten(want[len(got)]))
	case len(got) > len(want):
		return fmt.Sprintf("token %d: unexpected extra token %q", len(want)+1, shorten(got[len(want)]))
	}
	return ""
}

// decimalToken matches plain decimal numbers. Hex floats and spelled-out
// infinities or NaNs are compared as words.
var decimalToken = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func tokensEqual(got, want string, eps float64) bool {
	if got == want {
		return true
	}
	if !decimalToken.MatchString(got) || !decimalToken.MatchString(want) {
		return false
	}
	g, gErr := strconv.ParseFloat(got, 64)
	w, wErr := strconv.ParseFloat(want, 64)
	if gErr != nil || wErr != nil {
		return false
	}
	return floatsEqual(g, w, eps)
}

// floatsEqual accepts an absolute or relative difference within eps.
// NaN equals only NaN; infinities must match exactly.
func floatsEqual(got, want, eps float64) bool {
	if math.IsNaN(got) || math.IsNaN(want) {
		return math.IsNaN(got) && math.IsNaN(want)
	}
	if math.IsInf(got, 0) || math.IsInf(want, 0) {
		return got == want
	}
	diff := math.Abs(got - want)
	if diff <= eps {
		return true
	}
	return diff <= eps*math.Abs(want)
}

func shorten(s string) string {
	if len(s) <= maxNoteToken {
		return s
	}
	return s[:maxNoteToken] + "[...]"
}
