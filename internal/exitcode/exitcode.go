// Package exitcode maps hub errors onto stable process exit codes.
package exitcode

import (
	"os"

	"github.com/felixgeelhaar/taskhub/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ConfigError indicates a broken hub configuration or template set
	ConfigError = 3

	// AuthError indicates an authentication or authorization failure
	AuthError = 4

	// Interrupted indicates the run was cancelled by the user
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with a code derived from the error
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error's hub code onto an exit code.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeTemplateNotFound, errors.ErrCodeTemplateDuplicate,
		errors.ErrCodeTemplateParent, errors.ErrCodeTemplateType,
		errors.ErrCodeTemplateInvalid:
		return ConfigError
	case errors.ErrCodeTaskNotAuthorized, errors.ErrCodeUserNotInGroup,
		errors.ErrCodeUserNotFound, errors.ErrCodeGroupNotFound:
		return AuthError
	default:
		return GeneralError
	}
}
