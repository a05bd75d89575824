package verdict

import (
	"math"
	"strings"
	"testing"

	"judgecore/internal/sandbox/result"
)

func exited(stdout string) result.ExecutionResult {
	return result.ExecutionResult{Status: result.Exited, Stdout: stdout}
}

func TestEvaluateStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		res  result.ExecutionResult
		want result.Verdict
	}{
		{"timeout", result.ExecutionResult{Status: result.TimedOut, Stdout: "42\n"}, result.TimeLimitExceeded},
		{"memory", result.ExecutionResult{Status: result.MemoryExceeded}, result.MemoryLimitExceeded},
		{"output", result.ExecutionResult{Status: result.OutputExceeded, Stdout: "42\n"}, result.OutputLimitExceeded},
		{"signal", result.ExecutionResult{Status: result.Signaled, Signal: 11}, result.RuntimeError},
		{"non-zero exit", result.ExecutionResult{Status: result.Exited, ExitCode: 1, Stdout: "42\n"}, result.RuntimeError},
		{"accepted", exited("42\n"), result.Accepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Evaluate(tt.res, "42\n", Options{Mode: ModeTrimmed})
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEvaluateExact(t *testing.T) {
	tests := []struct {
		actual   string
		expected string
		want     result.Verdict
	}{
		{"1 2\n", "1 2\n", result.Accepted},
		{"1 2", "1 2\n", result.WrongAnswer},
		{"1 2 \n", "1 2\n", result.WrongAnswer},
		{"1 2\r\n", "1 2\n", result.WrongAnswer},
		{"", "", result.Accepted},
	}
	for _, tt := range tests {
		got, note := Evaluate(exited(tt.actual), tt.expected, Options{Mode: ModeExact})
		if got != tt.want {
			t.Fatalf("exact %q vs %q: expected %s, got %s (%s)", tt.actual, tt.expected, tt.want, got, note)
		}
		if got == result.Accepted && note != "" {
			t.Fatalf("expected empty note on accept, got %q", note)
		}
	}
}

func TestEvaluateTrimmed(t *testing.T) {
	tests := []struct {
		actual   string
		expected string
		want     result.Verdict
	}{
		{"1 2\n3\n", "1 2\n3\n", result.Accepted},
		{"1 2   \r\n3\t\r\n\r\n\n", "1 2\n3", result.Accepted},
		{"1 2\n3", "1 2\n3\n\n\n", result.Accepted},
		{" 1 2\n3\n", "1 2\n3\n", result.WrongAnswer},
		{"1 2\n\n3\n", "1 2\n3\n", result.WrongAnswer},
		{"1 2\n", "1 2\n3\n", result.WrongAnswer},
		{"1 2\n3\n4\n", "1 2\n3\n", result.WrongAnswer},
	}
	for _, tt := range tests {
		got, _ := Evaluate(exited(tt.actual), tt.expected, Options{Mode: ModeTrimmed})
		if got != tt.want {
			t.Fatalf("trimmed %q vs %q: expected %s, got %s", tt.actual, tt.expected, tt.want, got)
		}
	}
}

func TestEvaluateDefaultModeIsTrimmed(t *testing.T) {
	got, _ := Evaluate(exited("ok  \n\n"), "ok", Options{})
	if got != result.Accepted {
		t.Fatalf("expected Accepted, got %s", got)
	}
}

func TestEvaluateFloatTolerant(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		eps      float64
		want     result.Verdict
	}{
		{"equal", "0.5 0.25\n", "0.5 0.25", 0, result.Accepted},
		{"absolute", "1.0000001", "1.0", 0, result.Accepted},
		{"absolute miss", "1.00001", "1.0", 0, result.WrongAnswer},
		{"relative", "1000000.5", "1000000", 1e-6, result.Accepted},
		{"custom eps", "3.15", "3.14", 0.05, result.Accepted},
		{"whitespace layout", "1\n2\t3", "1 2 3", 0, result.Accepted},
		{"words exact", "yes 1.0", "YES 1.0", 0, result.WrongAnswer},
		{"word vs number", "abc", "1.0", 0, result.WrongAnswer},
		{"nan", "NaN", "NaN", 0, result.Accepted},
		{"nan vs number", "NaN", "1", 0, result.WrongAnswer},
		{"nan spelling", "nan", "NaN", 0, result.WrongAnswer},
		{"hex float", "0x10", "16", 0, result.WrongAnswer},
		{"spelled infinity", "Infinity", "inf", 0, result.WrongAnswer},
		{"signed and exponent", "+1.5e3 -.5", "1500 -0.5", 0, result.Accepted},
		{"missing token", "1 2", "1 2 3", 0, result.WrongAnswer},
		{"extra token", "1 2 3", "1 2", 0, result.WrongAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, note := Evaluate(exited(tt.actual), tt.expected, Options{Mode: ModeFloatTolerant, Epsilon: tt.eps})
			if got != tt.want {
				t.Fatalf("expected %s, got %s (%s)", tt.want, got, note)
			}
		})
	}
}

func TestFloatsEqualSpecialValues(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)
	if !floatsEqual(nan, nan, DefaultEpsilon) {
		t.Fatalf("expected NaN == NaN")
	}
	if floatsEqual(nan, 0, DefaultEpsilon) || floatsEqual(0, nan, DefaultEpsilon) {
		t.Fatalf("expected NaN to differ from numbers")
	}
	if !floatsEqual(inf, inf, DefaultEpsilon) {
		t.Fatalf("expected +Inf == +Inf")
	}
	if floatsEqual(inf, math.Inf(-1), DefaultEpsilon) || floatsEqual(inf, math.MaxFloat64, DefaultEpsilon) {
		t.Fatalf("expected infinities to match exactly")
	}
}

func TestEvaluateNotes(t *testing.T) {
	_, note := Evaluate(exited("1\n2\n"), "1\n3\n", Options{Mode: ModeTrimmed})
	if !strings.HasPrefix(note, "line 2:") {
		t.Fatalf("unexpected note: %q", note)
	}
	_, note = Evaluate(exited("1 2 4"), "1 2 3", Options{Mode: ModeFloatTolerant})
	if !strings.HasPrefix(note, "token 3:") {
		t.Fatalf("unexpected note: %q", note)
	}
	_, note = Evaluate(exited("ab\ncd"), "ab\nce", Options{Mode: ModeExact})
	if note != "line 2: byte 4 differs" {
		t.Fatalf("unexpected note: %q", note)
	}
	long := strings.Repeat("x", 200)
	_, note = Evaluate(exited(long), "y", Options{Mode: ModeTrimmed})
	if len(note) > 200 || !strings.Contains(note, "[...]") {
		t.Fatalf("expected shortened note, got %d bytes", len(note))
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeTrimmed, false},
		{"EXACT", ModeExact, false},
		{"trimmed", ModeTrimmed, false},
		{"float", ModeFloatTolerant, false},
		{"float-tolerant", ModeFloatTolerant, false},
		{"regex", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseMode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
