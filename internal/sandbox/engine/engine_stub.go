//go:build !linux

package engine

import (
	"context"

	"judgecore/internal/sandbox/result"
	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"
)

type stubEngine struct{}

func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	return &stubEngine{}, nil
}

func errUnsupported() error {
	return appErr.New(appErr.JudgeSystemError).WithMessage("process sandbox is only supported on linux")
}

func (s *stubEngine) Run(ctx context.Context, req spec.ExecutionRequest) (result.ExecutionResult, error) {
	return result.ExecutionResult{}, errUnsupported()
}

func (s *stubEngine) Kill(ctx context.Context, runID string) error {
	return errUnsupported()
}

func (s *stubEngine) Check(ctx context.Context) error {
	return errUnsupported()
}
