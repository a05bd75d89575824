package logger

import (
	"context"
	"path/filepath"
	"testing"

	"judgecore/pkg/utils/contextkey"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "judge.log")
	l, err := NewLogger(Config{Level: "debug", Format: "json", OutputPath: path, ErrorPath: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.WithContext(context.Background()).Info("hello")
	_ = l.Sync()
}

func TestExtractFieldsFromContext(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = context.WithValue(ctx, contextkey.TraceID, "trace-1")

	fields := extractFieldsFromContext(ctx)
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	keys := map[string]bool{}
	for _, f := range fields {
		keys[f.Key] = true
	}
	if !keys["run_id"] || !keys["trace_id"] {
		t.Fatalf("unexpected fields: %v", keys)
	}
}

func TestGlobalHelpersWithoutInit(t *testing.T) {
	globalLogger = nil
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("Sync without init: %v", err)
	}
}
