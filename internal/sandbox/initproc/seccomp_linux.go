//go:build linux

package initproc

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"judgecore/internal/sandbox/security"

	bpf "github.com/elastic/go-seccomp-bpf"
	libseccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

func loadSeccomp(req Request) error {
	if req.SeccompProfile == "" {
		return nil
	}
	data, err := os.ReadFile(req.SeccompProfile)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	switch req.SeccompKind {
	case security.SeccompBPF:
		policy, err := ParseBPFPolicy(data)
		if err != nil {
			return err
		}
		if err := bpf.LoadFilter(bpf.Filter{
			NoNewPrivs: true,
			Flag:       bpf.FilterFlagTSync,
			Policy:     policy,
		}); err != nil {
			return fmt.Errorf("load seccomp filter: %w", err)
		}
		return nil
	case security.SeccompLibseccomp:
		return loadLibseccomp(data)
	default:
		return nil
	}
}

// libseccompProfile is the JSON layout read by the libseccomp loader.
type libseccompProfile struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func loadLibseccomp(data []byte) error {
	var cfg libseccompProfile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseLibseccompAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := libseccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()
	for _, rule := range cfg.Syscalls {
		action, err := parseLibseccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := libseccomp.GetSyscallFromName(name)
			if err != nil {
				// unknown on this arch
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func parseLibseccompAction(action string) (libseccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return libseccomp.ActAllow, nil
	case "SCMP_ACT_ERRNO":
		return libseccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return libseccomp.ActKillProcess, nil
	default:
		return libseccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}

// bpfPolicyDoc is the YAML layout read by the pure-Go loader.
type bpfPolicyDoc struct {
	DefaultAction string `yaml:"default_action"`
	Syscalls      []struct {
		Action string   `yaml:"action"`
		Names  []string `yaml:"names"`
	} `yaml:"syscalls"`
}

// ParseBPFPolicy converts a YAML policy into a go-seccomp-bpf policy.
func ParseBPFPolicy(data []byte) (bpf.Policy, error) {
	var doc bpfPolicyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return bpf.Policy{}, fmt.Errorf("parse seccomp policy: %w", err)
	}
	def, err := parseBPFAction(doc.DefaultAction)
	if err != nil {
		return bpf.Policy{}, err
	}
	policy := bpf.Policy{DefaultAction: def}
	for _, group := range doc.Syscalls {
		action, err := parseBPFAction(group.Action)
		if err != nil {
			return bpf.Policy{}, err
		}
		policy.Syscalls = append(policy.Syscalls, bpf.SyscallGroup{
			Action: action,
			Names:  group.Names,
		})
	}
	return policy, nil
}

func parseBPFAction(action string) (bpf.Action, error) {
	switch strings.ToLower(action) {
	case "allow":
		return bpf.ActionAllow, nil
	case "errno":
		return bpf.Action(uint32(bpf.ActionErrno) | uint32(unix.EPERM)), nil
	case "kill_thread":
		return bpf.ActionKillThread, nil
	case "", "kill", "kill_process":
		return bpf.ActionKillProcess, nil
	default:
		return bpf.ActionKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
