package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"judgecore/internal/sandbox/result"
	appErr "judgecore/pkg/errors"
)

func TestReportAccepted(t *testing.T) {
	res := result.ExecutionResult{
		Status:      result.Exited,
		Stdout:      "42\n",
		WallTimeMs:  12,
		CPUTimeMs:   10,
		MemoryBytes: 4096,
	}
	p := Report(res, result.Accepted)
	if p.Verdict != result.Accepted || p.Message != "" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.RuntimeMs != 12 || p.CPUTimeMs != 10 || p.MemoryBytes != 4096 || p.Output != "42\n" {
		t.Fatalf("unexpected figures: %+v", p)
	}
}

func TestReportMessages(t *testing.T) {
	tests := []struct {
		name    string
		res     result.ExecutionResult
		verdict result.Verdict
		note    string
		want    string
	}{
		{"wrong answer", result.ExecutionResult{}, result.WrongAnswer, "line 1: expected \"1\", got \"2\"", "Wrong Answer: line 1: expected \"1\", got \"2\""},
		{"timeout", result.ExecutionResult{Status: result.TimedOut}, result.TimeLimitExceeded, "", "Time Limit Exceeded"},
		{"memory", result.ExecutionResult{Status: result.MemoryExceeded}, result.MemoryLimitExceeded, "", "Memory Limit Exceeded"},
		{"runtime", result.ExecutionResult{ExitCode: 1, Stderr: "Traceback\nZeroDivisionError\n"}, result.RuntimeError, "exit code 1", "Runtime Error: exit code 1\nTraceback\nZeroDivisionError"},
		{"compile", result.ExecutionResult{ExitCode: 1, Stderr: "error: expected ';'\n"}, result.CompileError, "", "Compilation Error\nerror: expected ';'"},
		{"system", result.ExecutionResult{}, result.SystemError, "", "System Error"},
	}
	r := NewReporter(0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Report(tt.res, tt.verdict, tt.note)
			if p.Message != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, p.Message)
			}
		})
	}
}

func TestReportCapsDiagnostics(t *testing.T) {
	res := result.ExecutionResult{
		ExitCode: 1,
		Stdout:   strings.Repeat("o", 10000),
		Stderr:   strings.Repeat("e", 10000),
	}
	p := NewReporter(64, 128).Report(res, result.RuntimeError, "")
	if len(p.Message) != 64 || !strings.HasSuffix(p.Message, truncatedMarker) {
		t.Fatalf("message not capped: %d bytes", len(p.Message))
	}
	if len(p.Output) != 128 || !strings.HasSuffix(p.Output, truncatedMarker) {
		t.Fatalf("output not capped: %d bytes", len(p.Output))
	}

	p = Report(res, result.RuntimeError)
	if len(p.Message) != DefaultMaxMessageBytes || len(p.Output) != DefaultMaxOutputBytes {
		t.Fatalf("default caps not applied: %d/%d", len(p.Message), len(p.Output))
	}
}

func TestTruncateKeepsUTF8(t *testing.T) {
	s := strings.Repeat("é", 20)
	got := Truncate(s, 12)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid utf-8: %q", got)
	}
	if len(got) > 12 {
		t.Fatalf("expected at most 12 bytes, got %d", len(got))
	}
	if Truncate("short", 12) != "short" {
		t.Fatalf("short strings must be untouched")
	}
	if Truncate("abcdef", 3) != "[.." {
		t.Fatalf("tiny caps must still respect the limit")
	}
}

func TestReportClampsNegativeFigures(t *testing.T) {
	p := Report(result.ExecutionResult{WallTimeMs: -5, MemoryBytes: -1, CPUTimeMs: -2}, result.Accepted)
	if p.RuntimeMs != 0 || p.MemoryBytes != 0 || p.CPUTimeMs != 0 {
		t.Fatalf("expected non-negative figures, got %+v", p)
	}
}

func TestFailure(t *testing.T) {
	p := NewReporter(0, 0).Failure(appErr.New(appErr.CompilationError).WithMessage("bad syntax"), 7)
	if p.Verdict != result.CompileError || p.Message != "Compilation Error: bad syntax" || p.RuntimeMs != 7 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	p = NewReporter(0, 0).Failure(appErr.New(appErr.HelperStartFailed), 0)
	if p.Verdict != result.SystemError {
		t.Fatalf("expected SystemError, got %s", p.Verdict)
	}
}

func TestEnvelopeEncoding(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, Succeeded(CompileCheckOK, 3)); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"success":true,"error":null,"output":"Compilation successful","runtime":3}` + "\n"
	if buf.String() != want {
		t.Fatalf("expected %s, got %s", want, buf.String())
	}

	buf.Reset()
	if err := Encode(&buf, Failed(CompileCheckMisusage, "", 0)); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want = `{"success":false,"error":"This runner should only be used for compilation testing","output":"","runtime":0}` + "\n"
	if buf.String() != want {
		t.Fatalf("expected %s, got %s", want, buf.String())
	}
}

func TestEnvelopeEscapesControlCharacters(t *testing.T) {
	var buf bytes.Buffer
	env := Failed("quote \" newline \n tab \t <tag>", "a\x00b", 1)
	if err := Encode(&buf, env); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected a single line, got %q", buf.String())
	}
	var decoded Envelope
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if decoded.Error == nil || *decoded.Error != *env.Error || decoded.Output != env.Output {
		t.Fatalf("round trip changed the envelope: %+v", decoded)
	}
}

func TestEncodeRejectsInconsistentEnvelope(t *testing.T) {
	msg := "boom"
	tests := []struct {
		name string
		env  Envelope
	}{
		{"success with error", Envelope{Success: true, Error: &msg}},
		{"failure without error", Envelope{Success: false}},
		{"negative runtime", Envelope{Success: true, Runtime: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Encode(&buf, tt.env)
			if !appErr.Is(err, appErr.ValidationFailed) {
				t.Fatalf("expected ValidationFailed, got %v", err)
			}
			if buf.Len() != 0 {
				t.Fatalf("nothing should be written on failure")
			}
		})
	}
}

func TestPayloadEnvelope(t *testing.T) {
	env := Payload{Verdict: result.Accepted, Output: "1", RuntimeMs: 5}.Envelope()
	if !env.Success || env.Error != nil || env.Output != "1" || env.Runtime != 5 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	env = Payload{Verdict: result.TimeLimitExceeded}.Envelope()
	if env.Success || env.Error == nil || *env.Error != "Time Limit Exceeded" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env := Failed("", "", 0); *env.Error != "SystemError" {
		t.Fatalf("empty message must default to the category name, got %q", *env.Error)
	}
}

func TestLineEncoding(t *testing.T) {
	p := Payload{Verdict: result.WrongAnswer, Message: "Wrong Answer", RuntimeMs: 2}
	line := Line{Envelope: p.Envelope(), Case: "1", Result: &p}
	var buf bytes.Buffer
	if err := Encode(&buf, line); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["success"] != false || decoded["case"] != "1" {
		t.Fatalf("unexpected line: %s", buf.String())
	}
	if _, ok := decoded["result"].(map[string]any); !ok {
		t.Fatalf("expected nested result, got %s", buf.String())
	}
}
