package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/solrelay/transfer-relay/relay"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitRuntime   = 1
	ExitUsage     = 2
	ExitRejected  = 3
	ExitAmbiguous = 4
)

// ExitError carries a process exit code. Err may be nil when the outcome was
// already printed and only the code matters.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitRuntime
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// exitForSummary returns the exit error for a finished batch: Ambiguous
// outranks Rejected, which outranks Confirmed.
func exitForSummary(s relay.Summary) error {
	switch {
	case s.Ambiguous > 0:
		return &ExitError{Code: ExitAmbiguous}
	case s.Rejected > 0:
		return &ExitError{Code: ExitRejected}
	default:
		return nil
	}
}
