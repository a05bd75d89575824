package errors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "judgecore/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{InvalidParams, "Invalid parameters"},
		{TimeLimitExceeded, "Time limit exceeded"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmptyMessageFallsBackToCategoryName(t *testing.T) {
	err := New(LimiterSetupFailed).WithMessage("")
	if err.Error() != "SystemError" {
		t.Fatalf("Error() = %q, want SystemError", err.Error())
	}

	err = &Error{Code: RuntimeError}
	if err.Error() != "RuntimeError" {
		t.Fatalf("Error() = %q, want RuntimeError", err.Error())
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	err := Wrap(originalErr, StorageError)

	if err.Code != StorageError {
		t.Errorf("Code = %v, want %v", err.Code, StorageError)
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should find the original error")
	}
	if Wrap(nil, StorageError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapfKeepsCause(t *testing.T) {
	err := Wrapf(errors.New("permission denied"), LimiterSetupFailed, "write %s failed", "memory.max")
	want := "write memory.max failed: permission denied"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, Success},
		{"coded", New(OutputLimitExceeded), OutputLimitExceeded},
		{"wrapped coded", fmt.Errorf("outer: %w", New(HelperStartFailed)), HelperStartFailed},
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), JudgeCancelled},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"plain", errors.New("boom"), InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSystem(t *testing.T) {
	if !LimiterSetupFailed.IsSystem() || !JudgeSystemError.IsSystem() {
		t.Fatal("setup failures must be system errors")
	}
	if RuntimeError.IsSystem() || CompilationError.IsSystem() {
		t.Fatal("program failures must not be system errors")
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("cmd", "required")
	if err.Code != ValidationFailed {
		t.Fatalf("Code = %v", err.Code)
	}
	if err.Details["field"] != "cmd" || err.Details["reason"] != "required" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "Accepted"},
		{New(CompilationError), "CompileError"},
		{Wrapf(errors.New("exit 1"), RuntimeError, "run"), "RuntimeError"},
		{New(HelperStartFailed), "SystemError"},
		{errors.New("boom"), "SystemError"},
		{New(JudgeCancelled), "SystemError"},
	}
	for _, tt := range tests {
		if got := Category(tt.err); got != tt.want {
			t.Fatalf("Category(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
