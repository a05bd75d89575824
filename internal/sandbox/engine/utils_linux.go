//go:build linux

package engine

import (
	"os"
	"syscall"
)

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}

func maxRSSBytes(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	// ru_maxrss is in kilobytes on Linux
	return usage.Maxrss * 1024
}

// exitStatus splits a wait status into exit code and terminating signal.
func exitStatus(state *os.ProcessState) (int, int) {
	if state == nil {
		return -1, 0
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return state.ExitCode(), 0
	}
	if ws.Signaled() {
		return -1, int(ws.Signal())
	}
	return ws.ExitStatus(), 0
}
