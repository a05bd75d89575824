// Package docker runs an ExecutionRequest inside a throwaway Docker container.
package docker

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"judgecore/internal/sandbox/capture"
	"judgecore/internal/sandbox/engine"
	"judgecore/internal/sandbox/limiter"
	"judgecore/internal/sandbox/observer"
	"judgecore/internal/sandbox/result"
	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	defaultImage    = "debian:bookworm-slim"
	defaultWorkDir  = "/workspace"
	defaultNanoCPUs = 1_000_000_000
	cleanupTimeout  = 10 * time.Second
	stopTimeout     = 10 * time.Second
)

// Config holds the configuration for Docker execution.
// Images maps an isolation profile name to an image; Image covers the rest.
type Config struct {
	Image          string            `yaml:"image" toml:"image"`
	Images         map[string]string `yaml:"images" toml:"images"`
	WorkDir        string            `yaml:"workDir" toml:"work_dir"`
	ScratchRoot    string            `yaml:"scratchRoot" toml:"scratch_root"`
	NanoCPUs       int64             `yaml:"nanoCpus" toml:"nano_cpus"`
	StderrMaxBytes int               `yaml:"stderrMaxBytes" toml:"stderr_max_bytes"`
	WaitDelay      time.Duration     `yaml:"waitDelay" toml:"wait_delay"`
	Grace          limiter.Grace     `yaml:"grace" toml:"grace"`

	Recorder observer.MetricsRecorder `yaml:"-" toml:"-"`
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = defaultImage
	}
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	if c.NanoCPUs <= 0 {
		c.NanoCPUs = defaultNanoCPUs
	}
	if c.StderrMaxBytes <= 0 {
		c.StderrMaxBytes = 64 * 1024
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = 500 * time.Millisecond
	}
	if c.Grace == (limiter.Grace{}) {
		c.Grace = limiter.DefaultGrace()
	}
	if c.Recorder == nil {
		c.Recorder = observer.NoopMetricsRecorder{}
	}
	return c
}

// dockerAPI is the slice of the Docker client the backend needs.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
}

// Engine implements engine.Engine on top of the Docker daemon.
type Engine struct {
	cli      dockerAPI
	closer   io.Closer
	cfg      Config
	inflight *xsync.MapOf[string, *containerRun]
}

var _ engine.Engine = (*Engine)(nil)

type containerRun struct {
	id        atomic.Value
	cancelled atomic.Bool
	timedOut  atomic.Bool
	overflow  atomic.Bool
}

// New connects to the daemon described by the DOCKER_* environment.
func New(cfg Config) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create docker client failed")
	}
	e := newEngine(cli, cfg)
	e.closer = cli
	return e, nil
}

func newEngine(cli dockerAPI, cfg Config) *Engine {
	return &Engine{
		cli:      cli,
		cfg:      cfg.withDefaults(),
		inflight: xsync.NewMapOf[string, *containerRun](),
	}
}

// Close releases the daemon connection.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func (e *Engine) imageFor(profile string) string {
	if img, ok := e.cfg.Images[profile]; ok && img != "" {
		return img
	}
	return e.cfg.Image
}

func (e *Engine) Run(ctx context.Context, req spec.ExecutionRequest) (result.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return result.ExecutionResult{}, err
	}
	ctx = logger.WithRunID(ctx, req.RunID)
	plan := limiter.NewPlan(req.Limits, e.cfg.Grace)

	run := &containerRun{}
	if _, loaded := e.inflight.LoadOrStore(req.RunID, run); loaded {
		return result.ExecutionResult{}, appErr.ValidationError("RunID", "already in flight")
	}
	defer e.inflight.Delete(req.RunID)

	scratch, err := engine.NewScratch(e.cfg.ScratchRoot, req.RunID, req.WorkDir, req.Exclude)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	defer scratch.Close()

	stdin, err := openStdin(req)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	if closer, ok := stdin.(io.Closer); ok {
		defer closer.Close()
	}

	id, err := e.create(ctx, req, plan, scratch.Dir, stdin != nil)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	run.id.Store(id)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := e.cli.ContainerRemove(cleanupCtx, id, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn(ctx, "remove container failed", zap.String("container", id), zap.Error(err))
		}
	}()

	attach, err := e.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  stdin != nil,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.HelperStartFailed, "attach container failed")
	}
	defer attach.Close()

	stdout := capture.NewHeadBuffer(plan.Limits.OutputBytes, func() {
		run.overflow.Store(true)
		e.kill(id)
	})
	stderr := capture.NewRingBuffer(e.cfg.StderrMaxBytes)
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
	}()

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.HelperStartFailed, "start container failed")
	}
	if stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, stdin)
			_ = attach.CloseWrite()
		}()
	}

	waitCh, errCh := e.cli.ContainerWait(context.Background(), id, container.WaitConditionNotRunning)
	timer := time.NewTimer(plan.Deadline)
	defer timer.Stop()

	var status container.WaitResponse
	select {
	case status = <-waitCh:
	case err := <-errCh:
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "wait container failed")
	case <-timer.C:
		run.timedOut.Store(true)
		status, err = e.stop(id, waitCh, errCh)
	case <-ctx.Done():
		run.cancelled.Store(true)
		status, err = e.stop(id, waitCh, errCh)
	}
	if err != nil {
		return result.ExecutionResult{}, err
	}
	wall := time.Since(start)

	select {
	case <-outputDone:
	case <-time.After(e.cfg.WaitDelay):
		attach.Close()
		<-outputDone
	}

	obs := result.Observation{
		ExitCode:        int(status.StatusCode),
		WallTimedOut:    run.timedOut.Load(),
		OutputOverflow:  run.overflow.Load() || stdout.Truncated(),
		WallTime:        wall,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StderrTruncated: stderr.Truncated(),
	}
	// docker reports death by signal n as exit status 128+n
	if obs.ExitCode > 128 && obs.ExitCode < 128+65 {
		obs.Signal = obs.ExitCode - 128
		obs.ExitCode = -1
	}
	inspectCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if info, err := e.cli.ContainerInspect(inspectCtx, id); err == nil && info.ContainerJSONBase != nil && info.State != nil {
		obs.OOMKilled = info.State.OOMKilled
	}

	res := result.Build(req.RunID, obs, plan.Limits)
	e.cfg.Recorder.ObserveExecution(ctx, engine.BackendDocker, string(res.Status), res.WallTimeMs)
	logger.Debug(ctx, "container run finished",
		zap.String("container", id),
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("wall_ms", res.WallTimeMs),
	)
	if run.cancelled.Load() {
		return res, appErr.New(appErr.JudgeCancelled).WithMessage("run cancelled")
	}
	if err := scratch.Collect(req.WorkDir, req.Collect); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) create(ctx context.Context, req spec.ExecutionRequest, plan limiter.Plan, scratchDir string, withStdin bool) (string, error) {
	pids := plan.Limits.PIDs
	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: scratchDir,
		Target: e.cfg.WorkDir,
	}}
	for _, m := range req.BindMounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	img := e.imageFor(req.Profile)
	containerCfg := &container.Config{
		Image:           img,
		Cmd:             req.Cmd,
		Env:             req.Env,
		WorkingDir:      e.cfg.WorkDir,
		Tty:             false,
		OpenStdin:       withStdin,
		StdinOnce:       withStdin,
		AttachStdin:     withStdin,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
		Labels:          map[string]string{"judgecore.run_id": req.RunID},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		AutoRemove:     false,
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Mounts:         mounts,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
		Resources: container.Resources{
			Memory:     plan.Limits.MemoryBytes,
			MemorySwap: plan.Limits.MemoryBytes,
			NanoCPUs:   e.cfg.NanoCPUs,
			PidsLimit:  &pids,
		},
	}
	name := "judgecore-" + req.RunID

	resp, err := e.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if cerrdefs.IsNotFound(err) {
		if err := e.pullImage(ctx, img); err != nil {
			return "", err
		}
		resp, err = e.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return "", appErr.Wrapf(err, appErr.HelperStartFailed, "create container failed")
	}
	return resp.ID, nil
}

// pullImage fetches a missing image and blocks until the pull completes.
func (e *Engine) pullImage(ctx context.Context, img string) error {
	logger.Info(ctx, "pulling missing docker image", zap.String("image", img))
	reader, err := e.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.HelperStartFailed, "pull image %s failed", img)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return appErr.Wrapf(err, appErr.HelperStartFailed, "pull image %s failed", img)
	}
	return nil
}

// stop kills the container and waits, bounded, for the daemon to notice.
func (e *Engine) stop(id string, waitCh <-chan container.WaitResponse, errCh <-chan error) (container.WaitResponse, error) {
	e.kill(id)
	select {
	case status := <-waitCh:
		return status, nil
	case err := <-errCh:
		return container.WaitResponse{}, appErr.Wrapf(err, appErr.JudgeSystemError, "wait killed container failed")
	case <-time.After(stopTimeout):
		return container.WaitResponse{}, appErr.New(appErr.JudgeSystemError).WithMessage("container did not stop after kill")
	}
}

func (e *Engine) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	_ = e.cli.ContainerKill(ctx, id, "KILL")
}

// Kill terminates an in-flight run.
func (e *Engine) Kill(ctx context.Context, runID string) error {
	run, ok := e.inflight.Load(runID)
	if !ok {
		return appErr.Newf(appErr.NotFound, "run %s is not in flight", runID)
	}
	run.cancelled.Store(true)
	id, _ := run.id.Load().(string)
	if id == "" {
		return appErr.Newf(appErr.NotFound, "run %s has no container yet", runID)
	}
	if err := e.cli.ContainerKill(ctx, id, "KILL"); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "kill container failed")
	}
	return nil
}

// Check pings the daemon.
func (e *Engine) Check(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return appErr.Wrapf(err, appErr.HelperStartFailed, "docker daemon unreachable")
	}
	return nil
}

func openStdin(req spec.ExecutionRequest) (io.Reader, error) {
	switch {
	case req.StdinPath != "":
		path := req.StdinPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(req.WorkDir, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.ArtifactNotFound, "open stdin file failed")
		}
		return f, nil
	case len(req.Stdin) > 0:
		return bytes.NewReader(req.Stdin), nil
	default:
		return nil, nil
	}
}
