package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Execution & Judge errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Timeout             ErrorCode = 10008

	// Storage errors (10200-10299)
	StorageError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301
	InvalidValue     ErrorCode = 10302

	// ========== Execution & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// Judge (13100-13199)
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	OutputLimitExceeded ErrorCode = 13106
	WrongAnswer         ErrorCode = 13107
	JudgeCancelled      ErrorCode = 13108

	// Sandbox setup (13300-13399)
	LimiterSetupFailed ErrorCode = 13300
	HelperStartFailed  ErrorCode = 13301
	ArtifactNotFound   ErrorCode = 13302
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Timeout:             "Request timeout",

	StorageError: "Storage operation failed",

	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",
	InvalidValue:     "Invalid value",

	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",

	JudgeSystemError:    "Judge system error",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	OutputLimitExceeded: "Output limit exceeded",
	WrongAnswer:         "Wrong answer",
	JudgeCancelled:      "Judge run cancelled",

	LimiterSetupFailed: "Failed to install resource limits",
	HelperStartFailed:  "Failed to start sandbox helper",
	ArtifactNotFound:   "Artifact not found",
}

// codeNames holds the short category name of each code. It is the fallback
// text for faults that carry no message.
var codeNames = map[ErrorCode]string{
	Success:              "Success",
	InternalServerError:  "SystemError",
	InvalidParams:        "InvalidParams",
	NotFound:             "NotFound",
	Timeout:              "Timeout",
	StorageError:         "StorageError",
	ValidationFailed:     "ValidationFailed",
	InvalidFormat:        "InvalidFormat",
	InvalidValue:         "InvalidValue",
	CodeTooLarge:         "CodeTooLarge",
	LanguageNotSupported: "LanguageNotSupported",
	JudgeSystemError:     "SystemError",
	CompilationError:     "CompileError",
	RuntimeError:         "RuntimeError",
	TimeLimitExceeded:    "TimeLimitExceeded",
	MemoryLimitExceeded:  "MemoryLimitExceeded",
	OutputLimitExceeded:  "OutputLimitExceeded",
	WrongAnswer:          "WrongAnswer",
	JudgeCancelled:       "Cancelled",
	LimiterSetupFailed:   "SystemError",
	HelperStartFailed:    "SystemError",
	ArtifactNotFound:     "SystemError",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Name returns the category name of the code.
func (c ErrorCode) Name() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "SystemError"
}

// IsSystem reports whether the code means the judge infrastructure itself failed.
func (c ErrorCode) IsSystem() bool {
	switch c {
	case InternalServerError, JudgeSystemError, LimiterSetupFailed, HelperStartFailed,
		ArtifactNotFound, StorageError, Timeout:
		return true
	default:
		return false
	}
}

// verdictNames maps codes that correspond to a judge verdict.
var verdictNames = map[ErrorCode]string{
	Success:             "Accepted",
	CompilationError:    "CompileError",
	RuntimeError:        "RuntimeError",
	TimeLimitExceeded:   "TimeLimitExceeded",
	MemoryLimitExceeded: "MemoryLimitExceeded",
	OutputLimitExceeded: "OutputLimitExceeded",
	WrongAnswer:         "WrongAnswer",
}
