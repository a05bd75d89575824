//go:build !linux

package initproc

import (
	"fmt"
	"os"
)

// Main reports that the helper cannot run on this platform.
func Main() int {
	_, _ = fmt.Fprintln(os.Stderr, "sandbox-init is only supported on linux")
	return 1
}
