package capability

import "fmt"

// Code classifies an operation failure. Codes are stable wire strings:
// the client and the model both see them as the prefix of the error
// text.
type Code string

const (
	// CodeSandboxViolation marks an attempted escape from the sandbox
	// root. Never retried.
	CodeSandboxViolation Code = "sandbox_violation"

	// CodeNotFound marks a missing file. Recoverable: the model can ask
	// for a different file.
	CodeNotFound Code = "not_found"

	// CodeEmptyDocument marks an indexing request whose extraction
	// produced no text.
	CodeEmptyDocument Code = "empty_document"

	// CodeUnknownOperation marks a request for an operation outside the
	// declared set, rejected at the protocol boundary.
	CodeUnknownOperation Code = "unknown_operation"

	// CodeInvalidArgument marks a request whose arguments are missing
	// or of the wrong type.
	CodeInvalidArgument Code = "invalid_argument"

	// CodeInternal marks an unexpected server-side failure.
	CodeInternal Code = "internal"
)

// Error is an operation-level failure carried in a tools/call result.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func opError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
