package judge

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"judgecore/internal/judge/report"
	"judgecore/internal/sandbox/result"
	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

// CheckRequest asks for a compile check of the artifact in Dir.
type CheckRequest struct {
	// Language is detected from the source file in Dir when empty.
	Language string
	// Dir defaults to the configured working directory.
	Dir string
}

// Check runs compile-check mode. It always returns a well-formed envelope;
// the error is set only for judge faults.
//
// A directory that already holds an input file is not a compile check and is
// refused. Otherwise the artifact must exist and, when the language defines a
// check or compile command, that command must succeed inside the sandbox.
func (j *Judge) Check(ctx context.Context, req CheckRequest) (report.Envelope, error) {
	t := startTimer()
	dir := j.dir(req.Dir)

	if _, err := os.Stat(filepath.Join(dir, InputFileName)); err == nil {
		return report.Failed(report.CompileCheckMisusage, "", t.elapsedMs()), nil
	}

	lang, err := j.language(req.Language, dir)
	if err != nil {
		return report.FromError(err, t.elapsedMs()), nil
	}
	if _, err := os.Stat(filepath.Join(dir, lang.SourceFile)); err != nil {
		err = appErr.Newf(appErr.ArtifactNotFound, "artifact %s not found in %s", lang.SourceFile, dir)
		return report.FromError(err, t.elapsedMs()), err
	}

	cmd, err := lang.CheckCommand()
	if err != nil {
		return report.FromError(err, t.elapsedMs()), err
	}
	if cmd == nil && lang.CompileEnabled() {
		if cmd, err = lang.CompileCommand(); err != nil {
			return report.FromError(err, t.elapsedMs()), err
		}
	}
	if cmd == nil {
		return report.Succeeded(report.CompileCheckOK, t.elapsedMs()), nil
	}

	runID := "check-" + newRunID()
	ctx = logger.WithRunID(ctx, runID)
	res, err := j.eng.Run(ctx, spec.ExecutionRequest{
		RunID:   runID,
		Cmd:     cmd,
		WorkDir: dir,
		Env:     lang.Env,
		Profile: lang.Profile,
		Limits:  lang.CompileLimitsFor(spec.ResourceLimit{}),
		Exclude: j.hidden(nil),
	})
	j.metrics.ObserveCompile(ctx, lang.ID, err == nil && res.Normal(), res.WallTimeMs, res.MemoryBytes)
	if err != nil {
		logger.Warn(ctx, "compile check failed to run", zap.String("language", lang.ID), zap.Error(err))
		return report.FromError(err, t.elapsedMs()), err
	}
	if !res.Normal() {
		msg := report.Title(result.CompileError) + ": " + compileFailureDetail(res)
		return report.Failed(report.Truncate(msg, j.reporter.MaxMessageBytes), "", t.elapsedMs()), nil
	}
	return report.Succeeded(report.CompileCheckOK, t.elapsedMs()), nil
}

// compileFailureDetail explains why a compiler run did not succeed.
func compileFailureDetail(res result.ExecutionResult) string {
	switch res.Status {
	case result.TimedOut:
		return "compiler exceeded the time limit"
	case result.MemoryExceeded:
		return "compiler exceeded the memory limit"
	case result.OutputExceeded:
		return "compiler output exceeded the limit"
	}
	detail := strings.TrimSpace(res.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(res.Stdout)
	}
	if detail == "" {
		return "Compilation failed"
	}
	return detail
}
