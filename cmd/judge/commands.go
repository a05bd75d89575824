package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"judgecore/internal/judge"
	"judgecore/internal/judge/report"
	"judgecore/internal/judge/testdata"
	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	mib = 1 << 20
	kib = 1 << 10

	skippedText = "Skipped after an earlier failure"
)

func languageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "language",
			Aliases: []string{"l"},
			Usage:   "language id, e.g. PYTHON, JAVA or CPP (default: detected from the source file)",
			Sources: cli.EnvVars("JUDGE_LANGUAGE"),
		},
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Usage:   "working directory holding the artifact (default: configured work dir)",
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "run id used in logs and sandbox names"},
		&cli.Int64Flag{Name: "time-limit", Usage: "CPU time limit in milliseconds"},
		&cli.Int64Flag{Name: "wall-limit", Usage: "wall clock limit in milliseconds"},
		&cli.Int64Flag{Name: "memory-limit", Usage: "memory limit in MiB"},
		&cli.Int64Flag{Name: "output-limit", Usage: "stdout limit in KiB"},
		&cli.StringFlag{Name: "compare", Usage: "comparison mode: exact, trimmed or float-tolerant"},
	}
}

func limitsFrom(cmd *cli.Command) spec.ResourceLimit {
	return spec.ResourceLimit{
		CPUTimeMs:   cmd.Int64("time-limit"),
		WallTimeMs:  cmd.Int64("wall-limit"),
		MemoryBytes: cmd.Int64("memory-limit") * mib,
		OutputBytes: cmd.Int64("output-limit") * kib,
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "verify that the artifact in the working directory compiles or loads",
		Flags:  languageFlags(),
		Action: runCheck,
	}
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.finish(ctx)

	env, err := a.judge.Check(ctx, judge.CheckRequest{
		Language: cmd.String("language"),
		Dir:      cmd.String("dir"),
	})
	if err != nil {
		logger.Error(ctx, "compile check failed", zap.Error(err))
	}
	a.printEnvelope("check", env)
	emit(env)
	return nil
}

func runCommand() *cli.Command {
	flags := append(languageFlags(), runFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "stdin file (default: <dir>/input.txt)"},
		&cli.StringFlag{Name: "answer", Aliases: []string{"a"}, Usage: "expected output file"},
		&cli.BoolFlag{Name: "compile", Usage: "compile the source in the working directory first"},
	)
	return &cli.Command{
		Name:   "run",
		Usage:  "run the artifact against one test case",
		Flags:  flags,
		Action: runCase,
	}
}

func runCase(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.finish(ctx)

	dir := cmd.String("dir")
	if dir == "" {
		dir = a.judge.WorkDir()
	}
	c, err := readCase(dir, cmd.String("input"), cmd.String("answer"))
	if err != nil {
		emit(report.FromError(err, time.Since(start).Milliseconds()))
		return nil
	}
	lang := cmd.String("language")

	if cmd.Bool("compile") {
		_, err := a.judge.Compile(ctx, judge.CompileRequest{RunID: cmd.String("id"), Language: lang, Dir: dir})
		if err != nil {
			p := a.reporter.Failure(err, time.Since(start).Milliseconds())
			a.printPayload(c.ID, p)
			emit(report.Line{Envelope: p.Envelope(), Case: c.ID, Result: &p})
			return nil
		}
	}

	p, err := a.judge.RunCase(ctx, judge.CaseRequest{
		RunID:    cmd.String("id"),
		Language: lang,
		Dir:      dir,
		Case:     c,
		Limits:   limitsFrom(cmd),
		Hidden:   hiddenIn(dir, cmd.String("answer")),
	})
	if err != nil {
		logger.Error(ctx, "case run failed", zap.Error(err))
	}
	a.printPayload(c.ID, p)
	emit(report.Line{Envelope: p.Envelope(), Case: c.ID, Result: &p})
	return nil
}

// readCase loads stdin and the expected answer for a single run.
func readCase(dir, inputPath, answerPath string) (testdata.Case, error) {
	if answerPath == "" {
		return testdata.Case{}, appErr.ValidationError("answer", "required")
	}
	if inputPath == "" {
		inputPath = filepath.Join(dir, judge.InputFileName)
	}
	input, err := os.ReadFile(inputPath)
	if err != nil && !os.IsNotExist(err) {
		return testdata.Case{}, appErr.Wrapf(err, appErr.NotFound, "read input failed")
	}
	expected, err := os.ReadFile(answerPath)
	if err != nil {
		return testdata.Case{}, appErr.Wrapf(err, appErr.NotFound, "read answer failed")
	}
	return testdata.Case{ID: "1", Input: input, Expected: string(expected)}, nil
}

// hiddenIn returns path relative to dir when it lies inside dir, so the
// sandbox copy of dir leaves it out.
func hiddenIn(dir, path string) []string {
	if path == "" {
		return nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return nil
	}
	return []string{rel}
}

func batchCommand() *cli.Command {
	flags := append(languageFlags(), runFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "tests", Aliases: []string{"t"}, Usage: "test directory or .tar.zst data pack (default: <dir>/tests)"},
		&cli.StringFlag{Name: "remote", Usage: "object prefix or .tar.zst key in the configured MinIO bucket"},
		&cli.StringFlag{Name: "bucket", Usage: "override the MinIO bucket"},
		&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "source file to validate, compile and judge"},
		&cli.Int64Flag{Name: "parallelism", Aliases: []string{"p"}, Usage: "cases run at once"},
		&cli.BoolFlag{Name: "stop-on-failure", Usage: "skip remaining cases after the first failure"},
	)
	return &cli.Command{
		Name:   "batch",
		Usage:  "run the artifact or a source file against a case set, one JSON line per case",
		Flags:  flags,
		Action: runBatch,
	}
}

func runBatch(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.finish(ctx)

	dir := cmd.String("dir")
	if dir == "" {
		dir = a.judge.WorkDir()
	}
	src, err := a.caseSource(cmd, dir)
	if err != nil {
		emit(report.FromError(err, time.Since(start).Milliseconds()))
		return nil
	}
	cases, err := src.Load(ctx)
	if err != nil {
		logger.Error(ctx, "load test data failed", zap.Error(err))
		emit(report.FromError(err, time.Since(start).Milliseconds()))
		return nil
	}

	var sum judge.Summary
	if path := cmd.String("source"); path != "" {
		code, rerr := os.ReadFile(path)
		if rerr != nil {
			err := appErr.Wrapf(rerr, appErr.NotFound, "read source failed")
			emit(report.FromError(err, time.Since(start).Milliseconds()))
			return nil
		}
		sum, err = a.judge.JudgeSubmission(ctx, judge.Submission{
			ID:       cmd.String("id"),
			Language: cmd.String("language"),
			Code:     string(code),
			Cases:    cases,
		}, limitsFrom(cmd))
	} else {
		sum, err = a.judge.RunCases(ctx, judge.BatchRequest{
			RunID:    cmd.String("id"),
			Language: cmd.String("language"),
			Dir:      dir,
			Cases:    cases,
			Limits:   limitsFrom(cmd),
			Hidden:   hiddenIn(dir, cmd.String("tests")),
		})
	}
	if err != nil {
		logger.Error(ctx, "batch failed", zap.Error(err))
	}
	a.printSummary(sum)
	for _, line := range batchLines(sum, err, time.Since(start).Milliseconds()) {
		emit(line)
	}
	return nil
}

// batchLines renders one line per case. A batch that never reached its cases
// yields a single line describing why.
func batchLines(sum judge.Summary, err error, elapsedMs int64) []report.Line {
	if len(sum.Cases) == 0 {
		if err != nil {
			return []report.Line{{Envelope: report.FromError(err, elapsedMs)}}
		}
		msg := report.Title(sum.Verdict)
		if sum.Message != "" {
			msg += ": " + sum.Message
		}
		return []report.Line{{Envelope: report.Failed(msg, "", elapsedMs)}}
	}
	lines := make([]report.Line, 0, len(sum.Cases))
	for _, o := range sum.Cases {
		if o.Payload == nil {
			lines = append(lines, report.Line{Envelope: report.Failed(skippedText, "", 0), Case: o.ID})
			continue
		}
		lines = append(lines, report.Line{Envelope: o.Payload.Envelope(), Case: o.ID, Result: o.Payload})
	}
	return lines
}

func (a *app) caseSource(cmd *cli.Command, dir string) (testdata.Source, error) {
	if prefix := cmd.String("remote"); prefix != "" {
		if !a.cfg.MinIO.Enabled() {
			return nil, appErr.ValidationError("minio.endpoint", "required for remote test data")
		}
		store, err := testdata.NewMinIOStore(a.cfg.MinIO)
		if err != nil {
			return nil, err
		}
		bucket := cmd.String("bucket")
		if bucket == "" {
			bucket = a.cfg.MinIO.Bucket
		}
		return testdata.ObjectSource{Store: store, Bucket: bucket, Prefix: prefix}, nil
	}
	path := cmd.String("tests")
	if path == "" {
		path = filepath.Join(dir, "tests")
	}
	return testdata.LocalDir{Path: path}, nil
}

func languagesCommand() *cli.Command {
	return &cli.Command{
		Name:   "languages",
		Usage:  "list the supported languages",
		Action: listLanguages,
	}
}

type languageInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SourceFile string `json:"source_file"`
	Compiled   bool   `json:"compiled"`
}

type languagesLine struct {
	report.Envelope
	Languages []languageInfo `json:"languages"`
}

func listLanguages(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.finish(ctx)

	ids := a.judge.Languages()
	line := languagesLine{Languages: make([]languageInfo, 0, len(ids))}
	for _, id := range ids {
		s, err := a.languages.Lookup(id)
		if err != nil {
			continue
		}
		line.Languages = append(line.Languages, languageInfo{
			ID:         s.ID,
			Name:       s.Name,
			SourceFile: s.SourceFile,
			Compiled:   s.CompileEnabled(),
		})
	}
	line.Envelope = report.Succeeded(strings.Join(ids, ","), time.Since(start).Milliseconds())
	emit(line)
	return nil
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "check that the sandbox can start runs",
		Action: checkHealth,
	}
}

type healthLine struct {
	report.Envelope
	Health judge.HealthReport `json:"health"`
}

func checkHealth(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.finish(ctx)

	rep := a.judge.Health(ctx)
	line := healthLine{Health: rep}
	if rep.Healthy {
		line.Envelope = report.Succeeded("healthy", time.Since(start).Milliseconds())
	} else {
		line.Envelope = report.Failed(rep.Error, "", time.Since(start).Milliseconds())
	}
	a.printEnvelope("health", line.Envelope)
	emit(line)
	return nil
}
