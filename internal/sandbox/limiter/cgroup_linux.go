//go:build linux

package limiter

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	appErr "judgecore/pkg/errors"

	"golang.org/x/sys/unix"
)

const (
	drainAttempts = 50
	drainInterval = 10 * time.Millisecond
)

// Cgroup is one cgroup v2 directory owned by a single run.
type Cgroup struct {
	path      string
	closeOnce sync.Once
	closeErr  error
}

// Create makes a fresh cgroup directory for runID under root.
func Create(root, runID string) (*Cgroup, error) {
	if root == "" {
		return nil, appErr.ValidationError("cgroup_root", "required")
	}
	if runID == "" {
		return nil, appErr.ValidationError("run_id", "required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, appErr.Wrapf(err, appErr.LimiterSetupFailed, "create cgroup root failed")
	}
	enableControllers(root)

	path := filepath.Join(root, "run-"+runID)
	if err := os.Mkdir(path, 0o750); err != nil {
		return nil, appErr.Wrapf(err, appErr.LimiterSetupFailed, "create cgroup path failed")
	}
	return &Cgroup{path: path}, nil
}

// enableControllers delegates the controllers a run needs to the root's children.
// Already-enabled or unavailable controllers are left as they are.
func enableControllers(root string) {
	for _, ctrl := range []string{"+memory", "+pids", "+cpu"} {
		_ = os.WriteFile(filepath.Join(root, "cgroup.subtree_control"), []byte(ctrl), 0o644)
	}
}

// Path returns the cgroup directory.
func (c *Cgroup) Path() string {
	return c.path
}

// Apply writes every limit. Swap and cpu files are optional on hosts without those controllers.
func (c *Cgroup) Apply(v CgroupValues) error {
	if err := c.write("memory.max", v.MemoryMax, true); err != nil {
		return err
	}
	if err := c.write("memory.swap.max", v.SwapMax, false); err != nil {
		return err
	}
	if err := c.write("pids.max", v.PidsMax, true); err != nil {
		return err
	}
	return c.write("cpu.max", v.CPUMax, false)
}

// AddProcess moves pid into the cgroup.
func (c *Cgroup) AddProcess(pid int) error {
	if pid <= 0 {
		return appErr.ValidationError("pid", "invalid")
	}
	return c.write("cgroup.procs", strconv.Itoa(pid), true)
}

// Kill terminates every process in the cgroup.
func (c *Cgroup) Kill() error {
	killPath := filepath.Join(c.path, "cgroup.kill")
	if _, err := os.Stat(killPath); err == nil {
		if err := os.WriteFile(killPath, []byte("1"), 0o600); err == nil {
			return nil
		}
	}
	pids, err := c.procs()
	if err != nil {
		return err
	}
	for _, pid := range pids {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}

// OOMKilled reports whether the kernel OOM killer fired inside the cgroup.
func (c *Cgroup) OOMKilled() bool {
	val, err := c.readKeyed("memory.events", "oom_kill")
	return err == nil && val > 0
}

// PeakMemory returns memory.peak in bytes.
func (c *Cgroup) PeakMemory() (int64, error) {
	return c.readInt("memory.peak")
}

// CPUTime returns the total CPU time consumed by the cgroup.
func (c *Cgroup) CPUTime() (time.Duration, error) {
	usec, err := c.readKeyed("cpu.stat", "usage_usec")
	if err != nil {
		return 0, err
	}
	return time.Duration(usec) * time.Microsecond, nil
}

// Close kills what is left, waits for the cgroup to drain and removes it.
// It is safe to call more than once.
func (c *Cgroup) Close() error {
	c.closeOnce.Do(func() {
		_ = c.Kill()
		for i := 0; i < drainAttempts && c.populated(); i++ {
			time.Sleep(drainInterval)
		}
		if err := os.Remove(c.path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			c.closeErr = appErr.Wrapf(err, appErr.LimiterSetupFailed, "remove cgroup failed")
		}
	})
	return c.closeErr
}

func (c *Cgroup) populated() bool {
	val, err := c.readKeyed("cgroup.events", "populated")
	return err == nil && val > 0
}

func (c *Cgroup) procs() ([]int, error) {
	data, err := os.ReadFile(filepath.Join(c.path, "cgroup.procs"))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.LimiterSetupFailed, "read cgroup.procs failed")
	}
	var pids []int
	for _, line := range strings.Fields(string(data)) {
		pid, err := strconv.Atoi(line)
		if err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (c *Cgroup) write(name, value string, required bool) error {
	if value == "" {
		return nil
	}
	file, err := os.OpenFile(filepath.Join(c.path, name), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		if !required && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return appErr.Wrapf(err, appErr.LimiterSetupFailed, "open %s failed", name)
	}
	defer file.Close()
	if _, err := file.WriteString(value); err != nil {
		return appErr.Wrapf(err, appErr.LimiterSetupFailed, "write %s failed", name)
	}
	return nil
}

func (c *Cgroup) readInt(name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, name))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.JudgeSystemError, "read %s failed", name)
	}
	val, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.JudgeSystemError, "parse %s failed", name)
	}
	return val, nil
}

// readKeyed reads one "key value" line from a flat-keyed cgroup file.
func (c *Cgroup) readKeyed(name, key string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, name))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.JudgeSystemError, "read %s failed", name)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != key {
			continue
		}
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, appErr.Wrapf(err, appErr.JudgeSystemError, "parse %s %s failed", name, key)
		}
		return val, nil
	}
	return 0, appErr.Newf(appErr.JudgeSystemError, "%s not found in %s", key, name)
}

// Available reports whether root sits on a writable cgroup v2 hierarchy.
func Available(root string) error {
	var st unix.Statfs_t
	dir := root
	for {
		if err := unix.Statfs(dir, &st); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return appErr.Newf(appErr.LimiterSetupFailed, "cgroup root %s not found", root)
		}
		dir = parent
	}
	if st.Type != unix.CGROUP2_SUPER_MAGIC {
		return appErr.Newf(appErr.LimiterSetupFailed, "%s is not a cgroup v2 mount", dir)
	}
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return appErr.Wrapf(err, appErr.LimiterSetupFailed, "cgroup root %s not writable", dir)
	}
	return nil
}
