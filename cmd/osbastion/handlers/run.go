package handlers

import (
	"context"
	"fmt"
	"io"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/manifest"
)

// Run handles the run command, the entrypoint of the action's scripts.
//
// The manifest is validated first; its input defaults are layered under
// the environment, and the operation (flag, else input) selects setup or
// teardown. Nothing touches the cloud when the manifest or inputs are
// invalid.
func Run(ctx context.Context, in *config.Inputs, manifestPath, operation string, o Overrides, yes bool, stdout io.Writer) error {
	action, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	in = in.WithDefaults(action.Defaults())
	if err := action.CheckInputs(in); err != nil {
		return err
	}

	if operation == "" {
		operation = in.Get("operation")
	}
	switch operation {
	case config.OperationCreate:
		return Setup(ctx, in, o, stdout)
	case config.OperationDestroy:
		return Teardown(ctx, in, o, yes, stdout)
	default:
		return fmt.Errorf("%w: operation must be %q or %q, got %q",
			bastion.ErrInvalidConfig, config.OperationCreate, config.OperationDestroy, operation)
	}
}
