// Command sandbox-init is started by the judge engine inside fresh namespaces.
// It reads its request on fd 3, sets up the sandbox and execs the target.
package main

import (
	"os"

	"judgecore/internal/sandbox/initproc"
)

func main() {
	os.Exit(initproc.Main())
}
