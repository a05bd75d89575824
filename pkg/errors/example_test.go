package errors_test

import (
	"context"
	"fmt"
	"os"

	appErr "judgecore/pkg/errors"
)

// A sandbox setup failure wraps the OS error and is reported as a system fault.
func ExampleWrapf() {
	_, cause := os.Open("/nonexistent/cgroup.procs")
	err := appErr.Wrapf(cause, appErr.LimiterSetupFailed, "join cgroup failed")

	fmt.Println(appErr.GetCode(err) == appErr.LimiterSetupFailed)
	fmt.Println(appErr.GetCode(err).IsSystem())
	fmt.Println(appErr.Category(err))
	// Output:
	// true
	// true
	// SystemError
}

// Compiler failures carry the compiler output as their message.
func ExampleCategory() {
	err := appErr.New(appErr.CompilationError).WithMessage("solution.cpp:3:1: error: expected ';'")

	fmt.Println(appErr.Category(err))
	fmt.Println(err)
	fmt.Println(appErr.Category(nil))
	// Output:
	// CompileError
	// solution.cpp:3:1: error: expected ';'
	// Accepted
}

func ExampleValidationError() {
	err := appErr.ValidationError("limits.cpuTimeMs", "gte")

	fmt.Println(err)
	fmt.Println(err.Details["field"])
	// Output:
	// limits.cpuTimeMs: gte
	// limits.cpuTimeMs
}

// Context cancellation is classified without wrapping.
func ExampleGetCode() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fmt.Println(appErr.GetCode(ctx.Err()) == appErr.JudgeCancelled)
	fmt.Println(appErr.New(appErr.HelperStartFailed))
	// Output:
	// true
	// Failed to start sandbox helper
}
