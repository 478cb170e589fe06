// Package errors defines the failure taxonomy shared by every codecontext
// component. Each failure carries a stable code and a short explanation;
// the underlying cause is kept for logging and never rendered.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code represents stable error codes for all failure modes
type Code string

const (
	// InputValidation indicates a malformed identifier, path or argument
	InputValidation Code = "INPUT_VALIDATION"
	// InvalidPattern indicates a search pattern that could alter process invocation
	InvalidPattern Code = "INVALID_PATTERN"
	// CommandTimeout indicates a version-control query exceeded its timeout
	CommandTimeout Code = "COMMAND_TIMEOUT"
	// CommandFailed indicates the version-control tool exited nonzero
	CommandFailed Code = "COMMAND_FAILED"
	// OutputParse indicates the tool produced output that could not be parsed
	OutputParse Code = "OUTPUT_PARSE"
	// ParseError indicates a source file could not be parsed
	ParseError Code = "PARSE_ERROR"
	// UnsupportedLanguage indicates a language outside the configured set
	UnsupportedLanguage Code = "UNSUPPORTED_LANGUAGE"
	// FileNotFound indicates a path that does not resolve inside the repository
	FileNotFound Code = "FILE_NOT_FOUND"
	// RepositoryNotFound indicates the root is missing or not a work tree
	RepositoryNotFound Code = "REPOSITORY_NOT_FOUND"
	// UnknownCommit indicates a commit hash that does not resolve
	UnknownCommit Code = "UNKNOWN_COMMIT"
)

// Error is a codecontext failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	// ExitCode is set for CommandFailed.
	ExitCode int   `json:"exitCode,omitempty"`
	cause    error // Underlying error (not exported to JSON)
}

// New creates an Error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that keeps cause for Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface. The cause is deliberately left out:
// it may hold subprocess output or absolute paths.
func (e *Error) Error() string {
	if e.Code == CommandFailed && e.ExitCode != 0 {
		return fmt.Sprintf("[%s] %s (exit code %d)", e.Code, e.Message, e.ExitCode)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithExitCode records the exit status of a failed command.
func (e *Error) WithExitCode(code int) *Error {
	e.ExitCode = code
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsValidation reports whether err was a rejection of caller input.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case InputValidation, InvalidPattern:
		return true
	}
	return false
}
