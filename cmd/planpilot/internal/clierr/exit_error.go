package clierr

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitRuntime     = 1
	ExitUsage       = 2
	ExitStepsFailed = 3
)

type ExitCoder interface {
	error
	ExitCode() int
}

// ExitError carries an explicit process exit code and unwraps to its cause.
type ExitError struct {
	code  int
	msg   string
	cause error
}

func (e *ExitError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.cause)
}

func (e *ExitError) ExitCode() int { return e.code }

func (e *ExitError) Unwrap() error { return e.cause }

func New(code int, msg string) error {
	return &ExitError{code: normalize(code), msg: msg}
}

func Wrap(code int, msg string, cause error) error {
	if cause == nil {
		return New(code, msg)
	}
	return &ExitError{code: normalize(code), msg: msg, cause: cause}
}

func Newf(code int, format string, args ...any) error {
	return &ExitError{code: normalize(code), msg: fmt.Sprintf(format, args...)}
}

// Usage reports a bad invocation or an invalid input file.
func Usage(msg string, cause error) error {
	return Wrap(ExitUsage, msg, cause)
}

// ExitCodeOf extracts an exit code from any error, defaulting to 1.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return ExitRuntime
}

func normalize(code int) int {
	// Exit code 0 means success; errors should never be 0.
	if code <= 0 {
		return ExitRuntime
	}
	return code
}
