// Package initproc implements the in-child half of the sandbox: it receives a
// Request from the engine, narrows the process's view of the system and execs
// the target program.
package initproc

import (
	"encoding/json"
	"fmt"
	"io"

	"judgecore/internal/sandbox/limiter"
	"judgecore/internal/sandbox/security"
	"judgecore/internal/sandbox/spec"
)

// File descriptors the engine hands to the helper through ExtraFiles.
const (
	RequestFD = 3
	ErrorFD   = 4
)

// EnvMarker, when set to "1", turns a binary embedding Main into the helper.
const EnvMarker = "JUDGECORE_SANDBOX_INIT"

// DefaultPath is the PATH given to programs that bring no environment.
const DefaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Request is everything the helper needs to set up and exec one program.
type Request struct {
	Cmd              []string             `json:"cmd"`
	WorkDir          string               `json:"workDir"`
	Env              []string             `json:"env"`
	RootFS           string               `json:"rootfs,omitempty"`
	Mounts           []spec.MountSpec     `json:"mounts,omitempty"`
	Hostname         string               `json:"hostname,omitempty"`
	Rlimits          limiter.Rlimits      `json:"rlimits"`
	SeccompProfile   string               `json:"seccompProfile,omitempty"`
	SeccompKind      security.SeccompKind `json:"seccompKind"`
	EnableNamespaces bool                 `json:"enableNamespaces"`
}

// Validate rejects requests the helper cannot honour.
func (r Request) Validate() error {
	if len(r.Cmd) == 0 || r.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if r.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if !r.EnableNamespaces && (r.RootFS != "" || len(r.Mounts) > 0) {
		return fmt.Errorf("namespaces disabled with rootfs or bind mounts")
	}
	for _, m := range r.Mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("invalid mount spec")
		}
	}
	return nil
}

// Encode writes req as one JSON document.
func Encode(w io.Writer, req Request) error {
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return nil
}

// Decode reads one JSON request.
func Decode(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// BuildEnv returns env, or a bare PATH when env is empty.
func BuildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{DefaultPath}
}
