// Package limiter derives resource enforcement plans and owns cgroup v2 lifecycles.
package limiter

import (
	"strconv"
	"time"

	"judgecore/internal/sandbox/spec"
)

const (
	DefaultCPUTimeMs   int64 = 5000
	DefaultMemoryBytes int64 = 256 << 20
	DefaultOutputBytes int64 = 16 << 20
	DefaultStackBytes  int64 = 64 << 20
	DefaultPIDs        int64 = 64

	// cpu.max period; the quota equals it so a run never gets more than one CPU.
	cpuPeriodUsec = 100000
)

// Grace bounds how far a run may overshoot its limits before the kernel backstops fire.
type Grace struct {
	CPU         time.Duration `yaml:"cpu" toml:"cpu"`
	OutputBytes int64         `yaml:"outputBytes" toml:"output_bytes"`

	// AddressSpacePercent pads RLIMIT_AS when no cgroup enforces memory.
	AddressSpacePercent int64 `yaml:"addressSpacePercent" toml:"address_space_percent"`
}

// DefaultGrace returns the grace margins used when none are configured.
func DefaultGrace() Grace {
	return Grace{CPU: time.Second, OutputBytes: 1000, AddressSpacePercent: 20}
}

// Rlimits are applied by the sandbox helper before exec. Zero means unset.
type Rlimits struct {
	CPUSeconds   uint64 `json:"cpuSeconds"`
	AddressSpace uint64 `json:"addressSpace"`
	FileSize     uint64 `json:"fileSize"`
	Stack        uint64 `json:"stack"`
	NProc        uint64 `json:"nproc"`
}

// CgroupValues are the interface file contents written before the child starts.
type CgroupValues struct {
	MemoryMax string
	SwapMax   string
	PidsMax   string
	CPUMax    string
}

// Plan is the complete enforcement setup for one run.
type Plan struct {
	Limits   spec.ResourceLimit
	Cgroup   CgroupValues
	Deadline time.Duration
	Grace    Grace

	rlimits Rlimits
}

// NewPlan fills defaults into limits and derives every enforcement value.
func NewPlan(limits spec.ResourceLimit, grace Grace) Plan {
	if grace == (Grace{}) {
		grace = DefaultGrace()
	}
	if limits.CPUTimeMs <= 0 {
		limits.CPUTimeMs = DefaultCPUTimeMs
	}
	if limits.MemoryBytes <= 0 {
		limits.MemoryBytes = DefaultMemoryBytes
	}
	if limits.OutputBytes <= 0 {
		limits.OutputBytes = DefaultOutputBytes
	}
	if limits.StackBytes <= 0 {
		limits.StackBytes = DefaultStackBytes
	}
	if limits.PIDs <= 0 {
		limits.PIDs = DefaultPIDs
	}
	if limits.WallTimeMs <= 0 {
		limits.WallTimeMs = 2*limits.CPUTimeMs + 1000
	}

	graceSeconds := int64(grace.CPU / time.Second)
	if grace.CPU%time.Second != 0 {
		graceSeconds++
	}

	return Plan{
		Limits: limits,
		Cgroup: CgroupValues{
			MemoryMax: strconv.FormatInt(limits.MemoryBytes, 10),
			SwapMax:   "0",
			PidsMax:   strconv.FormatInt(limits.PIDs, 10),
			CPUMax:    strconv.Itoa(cpuPeriodUsec) + " " + strconv.Itoa(cpuPeriodUsec),
		},
		Deadline: time.Duration(limits.WallTimeMs) * time.Millisecond,
		Grace:    grace,
		rlimits: Rlimits{
			CPUSeconds: uint64((limits.CPUTimeMs+999)/1000 + graceSeconds),
			FileSize:   uint64(limits.OutputBytes + grace.OutputBytes),
			Stack:      uint64(limits.StackBytes),
			NProc:      uint64(limits.PIDs),
		},
	}
}

// Rlimits returns the helper rlimits. Under a cgroup, memory.max and pids.max replace
// RLIMIT_AS and RLIMIT_NPROC; RLIMIT_NPROC counts every process of the host uid.
func (p Plan) Rlimits(cgroupEnabled bool) Rlimits {
	r := p.rlimits
	if cgroupEnabled {
		r.NProc = 0
		return r
	}
	r.AddressSpace = uint64(p.Limits.MemoryBytes + p.Limits.MemoryBytes*p.Grace.AddressSpacePercent/100)
	return r
}
