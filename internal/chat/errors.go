package chat

import "fmt"

// ErrorCode is a machine-readable classification of a terminal loop failure.
type ErrorCode string

const (
	// Configuration errors, surfaced before any model call.
	ErrConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrConfigDisabled ErrorCode = "CONFIG_DISABLED"

	// State errors, user-triggered misuse.
	ErrMessageNotFound    ErrorCode = "MESSAGE_NOT_FOUND"
	ErrInvalidMessageRole ErrorCode = "INVALID_MESSAGE_ROLE"
	ErrNoHistory          ErrorCode = "NO_HISTORY"
	ErrInvalidState       ErrorCode = "INVALID_STATE"

	// Transport failures wrapped from the provider.
	ErrTransport ErrorCode = "TRANSPORT"

	// The model kept requesting tools past the iteration cap. Reported as a
	// distinct terminal condition, not a bug.
	ErrMaxToolIterations ErrorCode = "MAX_TOOL_ITERATIONS"
)

// Error is the typed error the orchestration loop surfaces to its caller.
// Detail carries provider error payloads verbatim, never summarized.
type Error struct {
	Code    ErrorCode
	Message string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a typed error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapTransport wraps a provider failure, preserving its raw detail.
func WrapTransport(cause error, detail string) *Error {
	return &Error{
		Code:    ErrTransport,
		Message: cause.Error(),
		Detail:  detail,
		Cause:   cause,
	}
}

// CodeOf extracts the error code, or empty string for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
