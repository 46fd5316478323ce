package cli

import (
	"errors"

	"github.com/dmitrijs2005/ledger/internal/common"
)

const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitUsage     = 2
	ExitNotFound  = 3
	ExitInvalid   = 4
	ExitAuth      = 5
	ExitIntegrity = 6
)

// usageError marks bad invocations: unknown flags, wrong argument counts.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ue):
		return ExitUsage
	case errors.Is(err, common.ErrAuthFailed):
		return ExitAuth
	case errors.Is(err, common.ErrIntegrity), errors.Is(err, common.ErrUnsupportedFormat):
		return ExitIntegrity
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrStoreNotFound):
		return ExitNotFound
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrAlreadyExists),
		errors.Is(err, common.ErrAlreadySuperseded), errors.Is(err, common.ErrStoreExists),
		errors.Is(err, common.ErrInvalidState):
		return ExitInvalid
	}
	return ExitFailure
}
