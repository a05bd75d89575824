// Package judge wires the sandbox, the verdict evaluator and the reporter into
// the operations exposed to callers: compile checks, compilation, single cases
// and bounded parallel case sets.
package judge

import (
	"context"
	"slices"
	"time"

	"judgecore/internal/judge/language"
	"judgecore/internal/judge/report"
	"judgecore/internal/judge/verdict"
	"judgecore/internal/sandbox/engine"
	"judgecore/internal/sandbox/observer"
	"judgecore/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWorkDir      = "/workspace"
	defaultParallelism  = 1
	defaultMaxCodeBytes = 64 * 1024

	// InputFileName marks a working directory as holding a test input.
	InputFileName = "input.txt"
)

// Config controls the judge facade.
type Config struct {
	WorkDir            string          `yaml:"workDir" toml:"work_dir"`
	Parallelism        int             `yaml:"parallelism" toml:"parallelism"`
	StopOnFirstFailure bool            `yaml:"stopOnFirstFailure" toml:"stop_on_first_failure"`
	Compare            verdict.Options `yaml:"compare" toml:"compare"`
	MaxMessageBytes    int             `yaml:"maxMessageBytes" toml:"max_message_bytes"`
	MaxOutputBytes     int             `yaml:"maxOutputBytes" toml:"max_output_bytes"`
	MaxCodeBytes       int             `yaml:"maxCodeBytes" toml:"max_code_bytes"`
	ScratchRoot        string          `yaml:"scratchRoot" toml:"scratch_root"`
	// Hidden lists patterns, relative to the working directory, that
	// sandboxed programs never see. Test data and answers belong here.
	Hidden []string `yaml:"hidden" toml:"hidden"`
}

func (c Config) withDefaults() Config {
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.MaxCodeBytes <= 0 {
		c.MaxCodeBytes = defaultMaxCodeBytes
	}
	if c.Compare.Mode == "" {
		c.Compare.Mode = verdict.ModeTrimmed
	}
	if c.Hidden == nil {
		c.Hidden = []string{"tests", "*.ans"}
	}
	return c
}

// Judge runs submissions through one sandbox engine.
type Judge struct {
	eng       engine.Engine
	languages *language.Registry
	reporter  report.Reporter
	metrics   observer.MetricsRecorder
	cfg       Config
}

// New creates a judge. A nil recorder disables metrics.
func New(eng engine.Engine, languages *language.Registry, cfg Config, metrics observer.MetricsRecorder) *Judge {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	cfg = cfg.withDefaults()
	return &Judge{
		eng:       eng,
		languages: languages,
		reporter:  report.NewReporter(cfg.MaxMessageBytes, cfg.MaxOutputBytes),
		metrics:   metrics,
		cfg:       cfg,
	}
}

// WorkDir is the directory used when a request names none.
func (j *Judge) WorkDir() string {
	return j.cfg.WorkDir
}

func (j *Judge) dir(dir string) string {
	if dir == "" {
		return j.cfg.WorkDir
	}
	return dir
}

// language looks up id, or detects the language from the source file in dir
// when id is empty.
func (j *Judge) language(id, dir string) (language.Spec, error) {
	if id == "" {
		return j.languages.Detect(dir)
	}
	return j.languages.Lookup(id)
}

// hidden returns the exclude patterns of one run.
func (j *Judge) hidden(extra []string) []string {
	return append(slices.Clone(j.cfg.Hidden), extra...)
}

// Languages returns the supported language ids.
func (j *Judge) Languages() []string {
	return j.languages.IDs()
}

// HealthReport is the outcome of a self-test.
type HealthReport struct {
	Healthy   bool     `json:"healthy"`
	Languages []string `json:"languages"`
	Error     string   `json:"error,omitempty"`
}

// Health verifies that the sandbox can start runs.
func (j *Judge) Health(ctx context.Context) HealthReport {
	rep := HealthReport{Healthy: true, Languages: j.Languages()}
	if err := j.eng.Check(ctx); err != nil {
		logger.Warn(ctx, "sandbox health check failed", zap.Error(err))
		rep.Healthy = false
		rep.Error = err.Error()
	}
	return rep
}

func newRunID() string {
	return uuid.NewString()
}

// timer measures one invocation.
type timer struct {
	start time.Time
}

func startTimer() timer {
	return timer{start: time.Now()}
}

func (t timer) elapsedMs() int64 {
	return time.Since(t.start).Milliseconds()
}
