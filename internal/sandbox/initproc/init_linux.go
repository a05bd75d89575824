//go:build linux

package initproc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"judgecore/internal/sandbox/spec"

	"golang.org/x/sys/unix"
)

// Main runs the helper. It only returns on failure, after reporting the
// failure on the error pipe; the return value is the process exit code.
func Main() int {
	errPipe := os.NewFile(uintptr(ErrorFD), "sandbox-error")
	if errPipe != nil {
		unix.CloseOnExec(ErrorFD)
	}
	if err := run(); err != nil {
		if errPipe != nil {
			_, _ = fmt.Fprint(errPipe, err.Error())
			_ = errPipe.Close()
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
		return 127
	}
	return 0
}

func run() error {
	// seccomp filters attach to the calling thread; exec must happen on it.
	runtime.LockOSThread()

	reqFile := os.NewFile(uintptr(RequestFD), "sandbox-request")
	if reqFile == nil {
		return fmt.Errorf("request descriptor missing")
	}
	req, err := Decode(reqFile)
	_ = reqFile.Close()
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if req.EnableNamespaces {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mount private: %w", err)
		}
		if err := applyBindMounts(req.RootFS, req.Mounts); err != nil {
			return err
		}
		if req.RootFS != "" {
			if err := unix.Chroot(req.RootFS); err != nil {
				return fmt.Errorf("chroot: %w", err)
			}
			if err := os.Chdir("/"); err != nil {
				return fmt.Errorf("chdir root: %w", err)
			}
		}
		if req.Hostname != "" {
			if err := unix.Sethostname([]byte(req.Hostname)); err != nil {
				return fmt.Errorf("set hostname: %w", err)
			}
		}
	}

	if err := os.Chdir(req.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}

	env := BuildEnv(req.Env)
	cmdPath, err := lookPath(req.Cmd[0], env)
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	if err := applyRlimits(req); err != nil {
		return err
	}
	if err := loadSeccomp(req); err != nil {
		return err
	}
	return unix.Exec(cmdPath, req.Cmd, env)
}

// lookPath resolves name against the PATH the program will see, not the helper's.
func lookPath(name string, env []string) (string, error) {
	for _, kv := range env {
		if len(kv) > 5 && kv[:5] == "PATH=" {
			if err := os.Setenv("PATH", kv[5:]); err != nil {
				return "", err
			}
			break
		}
	}
	path, err := exec.LookPath(name)
	if errors.Is(err, exec.ErrDot) {
		return filepath.Abs(name)
	}
	return path, err
}

func applyBindMounts(rootfs string, mounts []spec.MountSpec) error {
	for _, m := range mounts {
		target := m.Target
		if rootfs != "" {
			target = filepath.Join(rootfs, m.Target)
		}
		if err := ensureMountTarget(m.Source, target); err != nil {
			return err
		}
		if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind mount %s: %w", m.Target, err)
		}
		if m.ReadOnly {
			flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NODEV)
			if err := unix.Mount("", target, "", flags, ""); err != nil {
				return fmt.Errorf("remount readonly %s: %w", m.Target, err)
			}
		}
	}
	if rootfs != "" {
		procPath := filepath.Join(rootfs, "proc")
		if err := os.MkdirAll(procPath, 0o755); err != nil {
			return fmt.Errorf("mkdir proc: %w", err)
		}
		if err := unix.Mount("proc", procPath, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil && !errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("mount proc: %w", err)
		}
	}
	return nil
}

func ensureMountTarget(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return file.Close()
}

func applyRlimits(req Request) error {
	limits := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"cpu", unix.RLIMIT_CPU, req.Rlimits.CPUSeconds},
		{"as", unix.RLIMIT_AS, req.Rlimits.AddressSpace},
		{"fsize", unix.RLIMIT_FSIZE, req.Rlimits.FileSize},
		{"stack", unix.RLIMIT_STACK, req.Rlimits.Stack},
		{"nproc", unix.RLIMIT_NPROC, req.Rlimits.NProc},
		{"core", unix.RLIMIT_CORE, 0},
	}
	for _, l := range limits {
		if l.value == 0 && l.resource != unix.RLIMIT_CORE {
			continue
		}
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}
