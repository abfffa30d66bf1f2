package handlers

import (
	"errors"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/provisioning"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitInvalidConfig   = 2
	ExitProvisionFailed = 3
	ExitTeardownLeaked  = 4
)

// ExitCode maps a command error to the process exit code. Leaked resources
// take precedence because they need manual cleanup.
func ExitCode(err error) int {
	var provisionErr *provisioning.ProvisionError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, bastion.ErrTeardownLeak):
		return ExitTeardownLeaked
	case errors.As(err, &provisionErr), errors.Is(err, bastion.ErrProvisionTimeout):
		return ExitProvisionFailed
	case errors.Is(err, bastion.ErrInvalidConfig):
		return ExitInvalidConfig
	default:
		return ExitFailure
	}
}
