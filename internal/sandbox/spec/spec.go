// Package spec defines the execution request and resource limits.
package spec

import (
	stderrors "errors"
	"path/filepath"
	"strings"

	appErr "judgecore/pkg/errors"

	"github.com/go-playground/validator/v10"
)

// ResourceLimit describes hard limits enforced by the sandbox.
// Zero means "use the limiter default".
type ResourceLimit struct {
	CPUTimeMs   int64 `json:"cpuTimeMs" yaml:"cpuTimeMs" toml:"cpu_time_ms" validate:"gte=0"`
	WallTimeMs  int64 `json:"wallTimeMs" yaml:"wallTimeMs" toml:"wall_time_ms" validate:"gte=0"`
	MemoryBytes int64 `json:"memoryBytes" yaml:"memoryBytes" toml:"memory_bytes" validate:"gte=0"`
	OutputBytes int64 `json:"outputBytes" yaml:"outputBytes" toml:"output_bytes" validate:"gte=0"`
	StackBytes  int64 `json:"stackBytes" yaml:"stackBytes" toml:"stack_bytes" validate:"gte=0"`
	PIDs        int64 `json:"pids" yaml:"pids" toml:"pids" validate:"gte=0"`
}

// Merge returns l with every non-zero field of override applied.
func (l ResourceLimit) Merge(override ResourceLimit) ResourceLimit {
	if override.CPUTimeMs > 0 {
		l.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		l.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryBytes > 0 {
		l.MemoryBytes = override.MemoryBytes
	}
	if override.OutputBytes > 0 {
		l.OutputBytes = override.OutputBytes
	}
	if override.StackBytes > 0 {
		l.StackBytes = override.StackBytes
	}
	if override.PIDs > 0 {
		l.PIDs = override.PIDs
	}
	return l
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string `json:"source" yaml:"source" toml:"source" validate:"required"`
	Target   string `json:"target" yaml:"target" toml:"target" validate:"required,startswith=/"`
	ReadOnly bool   `json:"readOnly" yaml:"readOnly" toml:"read_only"`
}

// ExecutionRequest is everything the sandbox needs for one run.
// WorkDir is the host directory holding the artifact; the sandbox runs a private copy of it.
type ExecutionRequest struct {
	RunID      string        `validate:"required"`
	Cmd        []string      `validate:"required,min=1,dive,required"`
	WorkDir    string        `validate:"required"`
	Env        []string      `validate:"dive,contains=="`
	Stdin      []byte
	StdinPath  string
	BindMounts []MountSpec   `validate:"dive"`
	Profile    string
	Limits     ResourceLimit

	// Collect lists glob patterns, relative to WorkDir, of files copied back
	// from the run's private copy once it finishes.
	Collect []string `validate:"dive,required"`

	// Exclude lists glob patterns, relative to WorkDir, left out of the
	// run's private copy. A matching directory is skipped as a whole.
	Exclude []string `validate:"dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request shape. The first failing field is reported.
func (r ExecutionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return appErr.ValidationError(fieldName(fe.Namespace()), fe.Tag())
		}
		return appErr.Wrap(err, appErr.ValidationFailed)
	}
	if len(r.Stdin) > 0 && r.StdinPath != "" {
		return appErr.ValidationError("stdin", "bytes and path are mutually exclusive")
	}
	for _, name := range r.Collect {
		if !filepath.IsLocal(name) {
			return appErr.ValidationError("Collect", "must be a local relative pattern")
		}
	}
	for _, pattern := range r.Exclude {
		if _, err := filepath.Match(pattern, ""); err != nil || !filepath.IsLocal(pattern) {
			return appErr.ValidationError("Exclude", "must be a local relative pattern")
		}
	}
	return nil
}

// fieldName strips the struct prefix from a validator namespace.
func fieldName(ns string) string {
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}
