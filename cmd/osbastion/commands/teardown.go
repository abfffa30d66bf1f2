package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
	"github.com/imamik/osbastion/internal/config"
)

// TeardownBastion returns the teardown-bastion command.
func TeardownBastion() *cobra.Command {
	var (
		flags overrideFlags
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "teardown-bastion",
		Short: "Delete every resource recorded in the bastion's ledger",
		Long: `Delete the bastion's resources in reverse creation order.

Only credentials and the ledger are needed. Failed deletions are retried;
a resource that still cannot be deleted is reported and the command
continues with the rest, then exits with status 4.

WARNING: This operation is irreversible.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Teardown(cmd.Context(), config.FromEnv(), flags.overrides(cmd), yes, cmd.OutOrStdout())
		},
	}

	flags.bindCommon(cmd)
	flags.bindTeardown(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation on a terminal")

	return cmd
}
