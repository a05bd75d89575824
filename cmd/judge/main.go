// Command judge compile-checks or runs one submission inside the sandbox and
// prints its outcome as JSON lines on stdout.
package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"judgecore/internal/judge"
	"judgecore/internal/judge/language"
	"judgecore/internal/judge/report"
	"judgecore/internal/judge/verdict"
	"judgecore/internal/sandbox/engine"
	"judgecore/internal/sandbox/engine/docker"
	"judgecore/internal/sandbox/observer"
	"judgecore/internal/sandbox/security"
	"judgecore/pkg/utils/logger"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const internalFaultText = "System Error: internal judge fault"

func main() {
	defer func() {
		if rec := recover(); rec != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s", rec, debug.Stack())
			emit(report.Failed(internalFaultText, "", 0))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		emit(report.FromError(err, 0))
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "judge",
		Usage:     "sandboxed code execution for a programming judge",
		Writer:    os.Stderr,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML or TOML config file",
				Sources: cli.EnvVars("JUDGE_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "print a colored summary on stderr",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "write Prometheus metrics in textfile format to this path",
			},
		},
		OnUsageError: func(ctx context.Context, cmd *cli.Command, err error, isSubcommand bool) error {
			return err
		},
		Commands: []*cli.Command{
			checkCommand(),
			runCommand(),
			batchCommand(),
			languagesCommand(),
			healthCommand(),
		},
	}
}

// app is everything one command invocation needs.
type app struct {
	cfg       *AppConfig
	judge     *judge.Judge
	languages *language.Registry
	reporter  report.Reporter
	metrics   *observer.PrometheusRecorder
	closeEng  func() error
	pretty    bool
}

func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := loadAppConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, cmd); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}

	a := &app{cfg: cfg, pretty: cmd.Bool("pretty")}
	var rec observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	if cfg.Metrics.TextfilePath != "" {
		a.metrics = observer.NewPrometheusRecorder()
		rec = a.metrics
	}

	specs, err := loadLanguages(cfg.Language)
	if err != nil {
		return nil, err
	}
	if cfg.Sandbox.Backend == backendDocker {
		specs, cfg.Docker.Images = dockerImages(specs, cfg.Docker.Images)
	}
	registry, err := language.NewRegistry(specs)
	if err != nil {
		return nil, err
	}
	if a.languages, err = registry.Restrict(cfg.Language.Enabled); err != nil {
		return nil, err
	}

	eng, closeEng, err := buildEngine(cfg, rec)
	if err != nil {
		logger.Error(ctx, "init sandbox engine failed", zap.Error(err))
		return nil, err
	}
	a.closeEng = closeEng
	a.judge = judge.New(eng, a.languages, cfg.Judge, rec)
	a.reporter = report.NewReporter(cfg.Judge.MaxMessageBytes, cfg.Judge.MaxOutputBytes)
	return a, nil
}

// applyFlags overlays command flags onto the loaded config.
func applyFlags(cfg *AppConfig, cmd *cli.Command) error {
	if path := cmd.String("metrics-file"); path != "" {
		cfg.Metrics.TextfilePath = path
	}
	if cmd.IsSet("parallelism") {
		cfg.Judge.Parallelism = int(cmd.Int64("parallelism"))
	}
	if cmd.IsSet("stop-on-failure") {
		cfg.Judge.StopOnFirstFailure = cmd.Bool("stop-on-failure")
	}
	if cmd.IsSet("compare") {
		mode, err := verdict.ParseMode(cmd.String("compare"))
		if err != nil {
			return err
		}
		cfg.Judge.Compare.Mode = mode
	}
	return nil
}

func (a *app) finish(ctx context.Context) {
	if a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			logger.Warn(ctx, "write metrics textfile failed", zap.Error(err))
		}
	}
	if a.closeEng != nil {
		if err := a.closeEng(); err != nil {
			logger.Warn(ctx, "close sandbox engine failed", zap.Error(err))
		}
	}
	_ = logger.Sync()
}

func loadLanguages(cfg LanguageConfig) ([]language.Spec, error) {
	specs := language.Builtin()
	if cfg.File == "" {
		return specs, nil
	}
	extra, err := language.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	return language.Overlay(specs, extra), nil
}

// dockerImages gives every language with an image its own profile so the
// Docker backend can pick the image per run. Configured images win.
func dockerImages(specs []language.Spec, images map[string]string) ([]language.Spec, map[string]string) {
	out := maps.Clone(images)
	if out == nil {
		out = make(map[string]string, len(specs))
	}
	for i, s := range specs {
		if s.Image == "" {
			continue
		}
		if s.Profile == "" {
			s.Profile = strings.ToLower(s.ID)
			specs[i] = s
		}
		if _, ok := out[s.Profile]; !ok {
			out[s.Profile] = s.Image
		}
	}
	return specs, out
}

func buildEngine(cfg *AppConfig, rec observer.MetricsRecorder) (engine.Engine, func() error, error) {
	if cfg.Sandbox.Backend == backendDocker {
		dcfg := cfg.Docker
		dcfg.Recorder = rec
		eng, err := docker.New(dcfg)
		if err != nil {
			return nil, nil, err
		}
		return eng, eng.Close, nil
	}
	profiles, err := security.LoadRegistry(cfg.Sandbox.ProfilesFile)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.NewEngine(cfg.Sandbox.toEngineConfig(rec), profiles)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() error { return nil }, nil
}

// emit writes exactly one JSON line on stdout. A record that fails validation
// is replaced by a system error envelope.
func emit(v any) {
	if err := report.Encode(os.Stdout, v); err != nil {
		fmt.Fprintf(os.Stderr, "encode result failed: %v\n", err)
		_ = report.Encode(os.Stdout, report.Failed(internalFaultText, "", 0))
	}
}
