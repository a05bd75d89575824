//go:build linux

package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"judgecore/internal/sandbox/capture"
	"judgecore/internal/sandbox/initproc"
	"judgecore/internal/sandbox/limiter"
	"judgecore/internal/sandbox/result"
	"judgecore/internal/sandbox/security"
	"judgecore/internal/sandbox/spec"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const maxSetupErrorBytes = 4096

type linuxEngine struct {
	cfg      Config
	resolver ProfileResolver
	inflight *xsync.MapOf[string, *runState]
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	if resolver == nil {
		return nil, appErr.ValidationError("resolver", "required")
	}
	cfg = cfg.withDefaults()
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, appErr.ValidationError("cgroup_root", "required")
	}
	return &linuxEngine{
		cfg:      cfg,
		resolver: resolver,
		inflight: xsync.NewMapOf[string, *runState](),
	}, nil
}

// runState is the kill switch of one in-flight run.
type runState struct {
	mu            sync.Mutex
	pid           int
	cg            *limiter.Cgroup
	killRequested bool

	timedOut  atomic.Bool
	cancelled atomic.Bool
	overflow  atomic.Bool
}

func (r *runState) kill() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killRequested = true
	r.killLocked()
}

func (r *runState) killLocked() {
	if r.pid > 0 {
		_ = unix.Kill(-r.pid, unix.SIGKILL)
	}
	if r.cg != nil {
		_ = r.cg.Kill()
	}
}

// started records the helper pid; a kill requested before start lands now.
func (r *runState) started(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pid = pid
	if r.killRequested {
		r.killLocked()
	}
}

func (e *linuxEngine) Run(ctx context.Context, req spec.ExecutionRequest) (result.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return result.ExecutionResult{}, err
	}
	if len(req.BindMounts) > 0 && !e.cfg.EnableNamespaces {
		return result.ExecutionResult{}, appErr.ValidationError("BindMounts", "requires namespaces")
	}
	ctx = logger.WithRunID(ctx, req.RunID)

	profile, err := e.resolver.Resolve(req.Profile)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	plan := limiter.NewPlan(req.Limits, e.cfg.Grace)

	state := &runState{}
	if _, loaded := e.inflight.LoadOrStore(req.RunID, state); loaded {
		return result.ExecutionResult{}, appErr.ValidationError("RunID", "already in flight")
	}
	defer e.inflight.Delete(req.RunID)

	scratch, err := NewScratch(e.cfg.ScratchRoot, req.RunID, req.WorkDir, req.Exclude)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	defer func() {
		if err := scratch.Close(); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", scratch.Dir), zap.Error(err))
		}
	}()

	var cg *limiter.Cgroup
	if e.cfg.EnableCgroup {
		cg, err = limiter.Create(e.cfg.CgroupRoot, req.RunID+"-"+uuid.NewString()[:8])
		if err != nil {
			return result.ExecutionResult{}, err
		}
		defer func() {
			if err := cg.Close(); err != nil {
				logger.Warn(ctx, "remove cgroup failed", zap.String("cgroup", cg.Path()), zap.Error(err))
			}
		}()
		if err := cg.Apply(plan.Cgroup); err != nil {
			return result.ExecutionResult{}, err
		}
		state.mu.Lock()
		state.cg = cg
		state.mu.Unlock()
	}

	stdin, err := openStdin(req)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	if closer, ok := stdin.(io.Closer); ok {
		defer closer.Close()
	}

	initReq := e.buildInitRequest(ctx, req, profile, plan, scratch.Dir)
	stdout := capture.NewHeadBuffer(plan.Limits.OutputBytes, func() {
		state.overflow.Store(true)
		state.kill()
	})
	stderr := capture.NewRingBuffer(e.cfg.StderrMaxBytes)

	proc, err := e.startHelper(ctx, initReq, profile, cg, stdin, stdout, stderr)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	state.started(proc.cmd.Process.Pid)

	done := make(chan struct{})
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		timer := time.NewTimer(plan.Deadline)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			state.cancelled.Store(true)
			state.kill()
		case <-timer.C:
			state.timedOut.Store(true)
			state.kill()
		case <-done:
		}
	}()

	waitErr := proc.cmd.Wait()
	wall := time.Since(proc.start)
	close(done)
	<-watchdogDone
	// descendants that outlived the main process
	state.kill()

	setupErr := <-proc.setupErr
	if setupErr != "" {
		logger.Warn(ctx, "sandbox setup failed", zap.String("error", setupErr))
		return result.ExecutionResult{}, appErr.Newf(appErr.HelperStartFailed, "sandbox setup failed: %s", setupErr)
	}
	if waitErr != nil && proc.cmd.ProcessState == nil {
		return result.ExecutionResult{}, appErr.Wrapf(waitErr, appErr.JudgeSystemError, "wait for sandbox failed")
	}

	exitCode, signal := exitStatus(proc.cmd.ProcessState)
	obs := result.Observation{
		ExitCode:        exitCode,
		Signal:          signal,
		WallTimedOut:    state.timedOut.Load(),
		OutputOverflow:  state.overflow.Load() || stdout.Truncated(),
		WallTime:        wall,
		CPUTimeMs:       cpuTimeMs(proc.cmd.ProcessState),
		PeakMemoryBytes: maxRSSBytes(proc.cmd.ProcessState),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StderrTruncated: stderr.Truncated(),
	}
	if cg != nil {
		obs.OOMKilled = cg.OOMKilled()
		if cpu, err := cg.CPUTime(); err == nil {
			obs.CPUTimeMs = cpu.Milliseconds()
		}
		if peak, err := cg.PeakMemory(); err == nil && peak > 0 {
			obs.PeakMemoryBytes = peak
		}
	}

	res := result.Build(req.RunID, obs, plan.Limits)
	e.cfg.Recorder.ObserveExecution(ctx, BackendProcess, string(res.Status), res.WallTimeMs)
	logger.Debug(ctx, "sandbox run finished",
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("wall_ms", res.WallTimeMs),
		zap.Int64("cpu_ms", res.CPUTimeMs),
		zap.Int64("memory_bytes", res.MemoryBytes),
	)

	if state.cancelled.Load() {
		return res, appErr.New(appErr.JudgeCancelled).WithMessage("run cancelled")
	}
	if err := scratch.Collect(req.WorkDir, req.Collect); err != nil {
		return res, err
	}
	return res, nil
}

type helperProcess struct {
	cmd      *exec.Cmd
	start    time.Time
	setupErr <-chan string
}

// startHelper launches sandbox-init with the request on fd 3 and the error pipe on fd 4.
// Under a cgroup the child is cloned straight into it; kernels without clone3
// fall back to moving the pid after start.
func (e *linuxEngine) startHelper(ctx context.Context, initReq initproc.Request, profile security.IsolationProfile,
	cg *limiter.Cgroup, stdin io.Reader, stdout, stderr io.Writer) (*helperProcess, error) {
	var cgDir *os.File
	if cg != nil {
		f, err := os.Open(cg.Path())
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.LimiterSetupFailed, "open cgroup dir failed")
		}
		defer f.Close()
		cgDir = f
	}

	proc, err := e.launch(initReq, profile, cgDir, stdin, stdout, stderr)
	if err != nil && cgDir != nil {
		logger.Debug(ctx, "clone into cgroup failed, retrying without", zap.Error(err))
		proc, err = e.launch(initReq, profile, nil, stdin, stdout, stderr)
		if err == nil {
			if addErr := cg.AddProcess(proc.cmd.Process.Pid); addErr != nil {
				_ = unix.Kill(-proc.cmd.Process.Pid, unix.SIGKILL)
				_ = proc.cmd.Wait()
				return nil, addErr
			}
		}
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.HelperStartFailed, "start helper failed")
	}
	return proc, nil
}

func (e *linuxEngine) launch(initReq initproc.Request, profile security.IsolationProfile, cgDir *os.File,
	stdin io.Reader, stdout, stderr io.Writer) (*helperProcess, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = reqR.Close()
		_ = reqW.Close()
		return nil, err
	}

	cmd := exec.Command(e.cfg.HelperPath)
	cmd.Env = append([]string{}, e.cfg.HelperEnv...)
	cmd.SysProcAttr = buildSysProcAttr(profile, e.cfg.EnableNamespaces, cgDir)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{reqR, errW}
	cmd.WaitDelay = e.cfg.WaitDelay

	start := time.Now()
	startErr := cmd.Start()
	_ = reqR.Close()
	_ = errW.Close()
	if startErr != nil {
		_ = reqW.Close()
		_ = errR.Close()
		return nil, startErr
	}

	go func() {
		_ = initproc.Encode(reqW, initReq)
		_ = reqW.Close()
	}()

	setupErr := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(io.LimitReader(errR, maxSetupErrorBytes))
		_ = errR.Close()
		setupErr <- string(data)
	}()

	return &helperProcess{cmd: cmd, start: start, setupErr: setupErr}, nil
}

func (e *linuxEngine) buildInitRequest(ctx context.Context, req spec.ExecutionRequest, profile security.IsolationProfile,
	plan limiter.Plan, scratchDir string) initproc.Request {
	initReq := initproc.Request{
		Cmd:              req.Cmd,
		WorkDir:          scratchDir,
		Env:              req.Env,
		Rlimits:          plan.Rlimits(e.cfg.EnableCgroup),
		EnableNamespaces: e.cfg.EnableNamespaces,
	}
	if e.cfg.EnableSeccomp && profile.SeccompProfile != "" {
		path := profile.SeccompProfile
		if e.cfg.SeccompDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(e.cfg.SeccompDir, path)
		}
		initReq.SeccompProfile = path
		initReq.SeccompKind = profile.SeccompKind()
	}
	if !e.cfg.EnableNamespaces {
		if profile.RootFS != "" || len(profile.Mounts) > 0 {
			logger.Warn(ctx, "namespaces disabled, ignoring profile rootfs and mounts", zap.String("profile", profile.Name))
		}
		return initReq
	}

	initReq.Hostname = profile.Hostname
	initReq.RootFS = profile.RootFS
	initReq.Mounts = append(initReq.Mounts, profile.Mounts...)
	initReq.Mounts = append(initReq.Mounts, req.BindMounts...)
	if profile.RootFS != "" {
		initReq.Mounts = append(initReq.Mounts, spec.MountSpec{Source: scratchDir, Target: e.cfg.SandboxWorkDir})
		initReq.WorkDir = e.cfg.SandboxWorkDir
	}
	return initReq
}

func (e *linuxEngine) Kill(ctx context.Context, runID string) error {
	if runID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	state, ok := e.inflight.Load(runID)
	if !ok {
		return appErr.Newf(appErr.NotFound, "run %s is not in flight", runID)
	}
	state.cancelled.Store(true)
	state.kill()
	logger.Info(logger.WithRunID(ctx, runID), "run killed on request")
	return nil
}

// Check verifies the helper is executable, scratch space is writable and,
// when enabled, the cgroup root is a writable cgroup v2 hierarchy.
func (e *linuxEngine) Check(ctx context.Context) error {
	if _, err := exec.LookPath(e.cfg.HelperPath); err != nil {
		return appErr.Wrapf(err, appErr.HelperStartFailed, "sandbox helper %s not executable", e.cfg.HelperPath)
	}
	dir, err := os.MkdirTemp(e.cfg.ScratchRoot, "health-")
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "scratch root not writable")
	}
	_ = os.Remove(dir)
	if e.cfg.EnableCgroup {
		if err := limiter.Available(e.cfg.CgroupRoot); err != nil {
			return err
		}
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

func buildSysProcAttr(profile security.IsolationProfile, enableNamespaces bool, cgDir *os.File) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cgDir != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = int(cgDir.Fd())
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}
