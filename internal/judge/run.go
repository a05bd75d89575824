package judge

import (
	"context"
	"os"
	"strconv"
	"sync"

	"judgecore/internal/judge/language"
	"judgecore/internal/judge/report"
	"judgecore/internal/judge/testdata"
	"judgecore/internal/judge/verdict"
	"judgecore/internal/sandbox/result"
	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/contextkey"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CompileRequest compiles the source already present in Dir.
type CompileRequest struct {
	RunID    string
	Language string
	Dir      string
	Limits   spec.ResourceLimit
}

// CompileResult describes one compilation.
type CompileResult struct {
	OK          bool   `json:"ok"`
	Skipped     bool   `json:"skipped,omitempty"`
	TimeMs      int64  `json:"time_ms"`
	MemoryBytes int64  `json:"memory_bytes"`
	Message     string `json:"message,omitempty"`
}

// Compile runs the language compile template in the sandbox. Produced
// artifacts are copied back into Dir. A failing compiler yields a
// CompilationError carrying the compiler's stderr.
func (j *Judge) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	dir := j.dir(req.Dir)
	lang, err := j.language(req.Language, dir)
	if err != nil {
		return CompileResult{}, err
	}
	return j.compile(ctx, lang, req.RunID, dir, req.Limits)
}

func (j *Judge) compile(ctx context.Context, lang language.Spec, runID, dir string, limits spec.ResourceLimit) (CompileResult, error) {
	if !lang.CompileEnabled() {
		return CompileResult{OK: true, Skipped: true}, nil
	}
	cmd, err := lang.CompileCommand()
	if err != nil {
		return CompileResult{}, err
	}
	if runID == "" {
		runID = newRunID()
	}
	runID += "-compile"
	ctx = logger.WithRunID(ctx, runID)

	res, err := j.eng.Run(ctx, spec.ExecutionRequest{
		RunID:   runID,
		Cmd:     cmd,
		WorkDir: dir,
		Env:     lang.Env,
		Profile: lang.Profile,
		Limits:  lang.CompileLimitsFor(limits),
		Collect: lang.Artifacts,
		Exclude: j.hidden(nil),
	})
	out := CompileResult{
		OK:          err == nil && res.Normal(),
		TimeMs:      res.WallTimeMs,
		MemoryBytes: res.MemoryBytes,
	}
	j.metrics.ObserveCompile(ctx, lang.ID, out.OK, out.TimeMs, out.MemoryBytes)
	if err != nil {
		return out, err
	}
	if !out.OK {
		out.Message = report.Truncate(compileFailureDetail(res), j.reporter.MaxMessageBytes)
		logger.Info(ctx, "compilation failed", zap.String("language", lang.ID), zap.Int("exit_code", res.ExitCode))
		return out, appErr.New(appErr.CompilationError).WithMessage(out.Message)
	}
	return out, nil
}

// CaseRequest runs one test case against the artifact in Dir.
type CaseRequest struct {
	RunID    string
	Language string
	Dir      string
	Case     testdata.Case
	Limits   spec.ResourceLimit
	// Hidden adds paths in Dir the program must not see, such as the answer file.
	Hidden []string
}

// RunCase executes and judges one case. The payload is always usable; the
// error is set for judge faults and cancellation.
func (j *Judge) RunCase(ctx context.Context, req CaseRequest) (report.Payload, error) {
	t := startTimer()
	dir := j.dir(req.Dir)
	lang, err := j.language(req.Language, dir)
	if err != nil {
		return j.reporter.Failure(err, t.elapsedMs()), err
	}
	return j.runCase(ctx, lang, req.RunID, dir, req.Case, req.Limits, j.hidden(req.Hidden))
}

func (j *Judge) runCase(ctx context.Context, lang language.Spec, runID, dir string, c testdata.Case, limits spec.ResourceLimit, hidden []string) (report.Payload, error) {
	t := startTimer()
	cmd, err := lang.RunCommand()
	if err != nil {
		return j.reporter.Failure(err, t.elapsedMs()), err
	}
	if runID == "" {
		runID = newRunID()
	}
	if c.ID != "" {
		runID += "-" + c.ID
		ctx = context.WithValue(ctx, contextkey.CaseID, c.ID)
	}
	ctx = logger.WithRunID(ctx, runID)

	res, err := j.eng.Run(ctx, spec.ExecutionRequest{
		RunID:   runID,
		Cmd:     cmd,
		WorkDir: dir,
		Env:     lang.Env,
		Stdin:   c.Input,
		Profile: lang.Profile,
		Limits:  lang.RunLimits(limits),
		Exclude: hidden,
	})
	if err != nil {
		p := j.reporter.Failure(err, t.elapsedMs())
		j.metrics.ObserveRun(ctx, lang.ID, string(p.Verdict), p.RuntimeMs, 0, 0)
		if !appErr.Is(err, appErr.JudgeCancelled) {
			logger.Error(ctx, "sandbox run failed", zap.String("language", lang.ID), zap.Error(err))
		}
		return p, err
	}

	v, note := verdict.Evaluate(res, c.Expected, j.cfg.Compare)
	p := j.reporter.Report(res, v, note)
	j.metrics.ObserveRun(ctx, lang.ID, string(v), res.WallTimeMs, res.MemoryBytes, int64(len(res.Stdout)))
	logger.Debug(ctx, "case judged",
		zap.String("verdict", string(v)),
		zap.Int64("runtime_ms", p.RuntimeMs),
		zap.Int64("memory_bytes", p.MemoryBytes),
	)
	return p, nil
}

// BatchRequest runs a case set against the artifact in Dir.
type BatchRequest struct {
	RunID    string
	Language string
	Dir      string
	Cases    []testdata.Case
	Limits   spec.ResourceLimit
	// Hidden adds paths in Dir the program must not see, such as the test directory.
	Hidden []string
}

// CaseOutcome is the result of one case in a batch. Skipped cases were not
// run because an earlier case failed.
type CaseOutcome struct {
	ID      string          `json:"id"`
	Skipped bool            `json:"skipped,omitempty"`
	Payload *report.Payload `json:"result,omitempty"`
}

// Summary aggregates a batch.
type Summary struct {
	Verdict        result.Verdict `json:"verdict"`
	Passed         int            `json:"passed"`
	Total          int            `json:"total"`
	TotalRuntimeMs int64          `json:"total_runtime_ms"`
	MaxMemoryBytes int64          `json:"max_memory_bytes"`
	Message        string         `json:"message,omitempty"`
	Cases          []CaseOutcome  `json:"cases"`
}

// RunCases runs every case with at most Parallelism concurrent sandboxes.
// With StopOnFirstFailure set, cases not yet started once one fails are skipped
// and runs in flight are stopped.
func (j *Judge) RunCases(ctx context.Context, req BatchRequest) (Summary, error) {
	req.Dir = j.dir(req.Dir)
	lang, err := j.language(req.Language, req.Dir)
	if err != nil {
		return Summary{Verdict: result.Verdict(appErr.Category(err)), Total: len(req.Cases), Message: err.Error()}, err
	}
	return j.runCases(ctx, lang, req)
}

func (j *Judge) runCases(ctx context.Context, lang language.Spec, req BatchRequest) (Summary, error) {
	if req.RunID == "" {
		req.RunID = newRunID()
	}
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	hidden := j.hidden(req.Hidden)

	outcomes := make([]CaseOutcome, len(req.Cases))
	var (
		mu       sync.Mutex
		firstErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(j.cfg.Parallelism)
	for i, c := range req.Cases {
		outcomes[i] = CaseOutcome{ID: caseID(c, i), Skipped: true}
		g.Go(func() error {
			if stopCtx.Err() != nil {
				return nil
			}
			c.ID = outcomes[i].ID
			p, err := j.runCase(stopCtx, lang, req.RunID, req.Dir, c, req.Limits, hidden)
			if err != nil && appErr.Is(err, appErr.JudgeCancelled) && ctx.Err() == nil {
				// stopped after another case failed
				return nil
			}
			mu.Lock()
			outcomes[i] = CaseOutcome{ID: c.ID, Payload: &p}
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			if err != nil || (p.Verdict != result.Accepted && j.cfg.StopOnFirstFailure) {
				stop()
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := summarize(outcomes)
	if err := ctx.Err(); err != nil && firstErr == nil {
		firstErr = appErr.Wrap(err, appErr.JudgeCancelled)
	}
	// a cancelled batch never reports a judging verdict for cases it did not run
	if firstErr != nil && (ctx.Err() != nil || sum.Verdict == result.Accepted) {
		sum.Verdict = result.Verdict(appErr.Category(firstErr))
		sum.Message = firstErr.Error()
	}
	logger.Info(logger.WithRunID(ctx, req.RunID), "case set judged",
		zap.String("language", lang.ID),
		zap.String("verdict", string(sum.Verdict)),
		zap.Int("passed", sum.Passed),
		zap.Int("total", sum.Total),
	)
	return sum, firstErr
}

// summarize picks the verdict of the first failing case in case order.
func summarize(outcomes []CaseOutcome) Summary {
	sum := Summary{Verdict: result.Accepted, Total: len(outcomes), Cases: outcomes}
	for _, o := range outcomes {
		if o.Payload == nil {
			continue
		}
		p := o.Payload
		sum.TotalRuntimeMs += p.RuntimeMs
		sum.MaxMemoryBytes = max(sum.MaxMemoryBytes, p.MemoryBytes)
		if p.Verdict == result.Accepted {
			sum.Passed++
			continue
		}
		if sum.Verdict == result.Accepted {
			sum.Verdict = p.Verdict
			sum.Message = p.Message
		}
	}
	if sum.Verdict == result.Accepted && sum.Passed < sum.Total {
		sum.Verdict = result.WrongAnswer
	}
	return sum
}

// JudgeSubmission validates, compiles and runs a whole submission.
func (j *Judge) JudgeSubmission(ctx context.Context, sub Submission, limits spec.ResourceLimit) (Summary, error) {
	lang, err := j.ValidateSubmission(sub)
	if err != nil {
		return Summary{Verdict: result.Verdict(appErr.Category(err)), Total: len(sub.Cases), Message: err.Error()}, err
	}
	runID := sub.ID
	if runID == "" {
		runID = newRunID()
	}
	dir, err := j.prepareSource(lang, sub.Code)
	if err != nil {
		return Summary{Verdict: result.SystemError, Total: len(sub.Cases)}, err
	}
	defer os.RemoveAll(dir)

	if _, err := j.compile(ctx, lang, runID, dir, spec.ResourceLimit{}); err != nil {
		sum := Summary{Verdict: result.Verdict(appErr.Category(err)), Total: len(sub.Cases), Message: err.Error()}
		if appErr.Is(err, appErr.CompilationError) {
			return sum, nil
		}
		return sum, err
	}
	return j.runCases(ctx, lang, BatchRequest{
		RunID:  runID,
		Dir:    dir,
		Cases:  sub.Cases,
		Limits: limits,
	})
}

func caseID(c testdata.Case, idx int) string {
	if c.ID != "" {
		return c.ID
	}
	return strconv.Itoa(idx + 1)
}
