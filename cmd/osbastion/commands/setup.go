package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
	"github.com/imamik/osbastion/internal/config"
)

// SetupBastion returns the setup-bastion command.
func SetupBastion() *cobra.Command {
	var flags overrideFlags

	cmd := &cobra.Command{
		Use:   "setup-bastion",
		Short: "Create a bastion and wait until it is reachable",
		Long: `Create the bastion's security group, keypair, server and floating IP,
then wait until SSH answers (and cloud-init has finished, when enabled).

The bastion spec is read from action inputs (INPUT_<NAME>), falling back to the
standard OS_* OpenStack variables. Each resource is recorded in the ledger
as soon as it exists. If any step fails, everything created so far is
deleted again and the command exits non-zero.

Example:
  INPUT_OPENSTACK_REGION=RegionOne INPUT_NETWORK=private osbastion setup-bastion`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Setup(cmd.Context(), config.FromEnv(), flags.overrides(cmd), cmd.OutOrStdout())
		},
	}

	flags.bindCommon(cmd)
	flags.bindSetup(cmd)

	return cmd
}
