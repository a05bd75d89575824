//go:build !linux

package limiter

import (
	"time"

	appErr "judgecore/pkg/errors"
)

// Cgroup is unavailable off Linux.
type Cgroup struct{}

func Create(root, runID string) (*Cgroup, error) {
	return nil, appErr.New(appErr.LimiterSetupFailed).WithMessage("cgroup v2 is only supported on linux")
}

func Available(root string) error {
	return appErr.New(appErr.LimiterSetupFailed).WithMessage("cgroup v2 is only supported on linux")
}

func (c *Cgroup) Path() string { return "" }
func (c *Cgroup) Apply(v CgroupValues) error { return nil }
func (c *Cgroup) AddProcess(pid int) error { return nil }
func (c *Cgroup) Kill() error { return nil }
func (c *Cgroup) OOMKilled() bool { return false }
func (c *Cgroup) PeakMemory() (int64, error) { return 0, nil }
func (c *Cgroup) CPUTime() (time.Duration, error) { return 0, nil }
func (c *Cgroup) Close() error { return nil }
