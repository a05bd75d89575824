// Package engine runs one ExecutionRequest inside an isolated sandbox.
package engine

import (
	"context"
	"time"

	"judgecore/internal/sandbox/limiter"
	"judgecore/internal/sandbox/observer"
	"judgecore/internal/sandbox/result"
	"judgecore/internal/sandbox/security"
	"judgecore/internal/sandbox/spec"
)

// Backend names reported to metrics.
const (
	BackendProcess = "process"
	BackendDocker  = "docker"
)

const (
	defaultStderrMaxBytes = 64 * 1024
	defaultWaitDelay      = 500 * time.Millisecond
	defaultSandboxWorkDir = "/workspace"
)

// Engine executes an ExecutionRequest inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, req spec.ExecutionRequest) (result.ExecutionResult, error)
	Kill(ctx context.Context, runID string) error
	Check(ctx context.Context) error
}

// ProfileResolver resolves a profile name into an isolation profile.
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	CgroupRoot       string
	SeccompDir       string
	HelperPath       string
	HelperEnv        []string
	ScratchRoot      string
	SandboxWorkDir   string
	StderrMaxBytes   int
	WaitDelay        time.Duration
	Grace            limiter.Grace
	EnableSeccomp    bool
	EnableCgroup     bool
	EnableNamespaces bool
	Recorder         observer.MetricsRecorder
}

func (c Config) withDefaults() Config {
	if c.StderrMaxBytes <= 0 {
		c.StderrMaxBytes = defaultStderrMaxBytes
	}
	if c.HelperPath == "" {
		c.HelperPath = "sandbox-init"
	}
	if c.SandboxWorkDir == "" {
		c.SandboxWorkDir = defaultSandboxWorkDir
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = defaultWaitDelay
	}
	if c.Grace == (limiter.Grace{}) {
		c.Grace = limiter.DefaultGrace()
	}
	if c.Recorder == nil {
		c.Recorder = observer.NoopMetricsRecorder{}
	}
	return c
}
