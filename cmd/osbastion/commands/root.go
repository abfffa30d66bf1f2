// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
)

// Root returns the root command for the osbastion CLI.
func Root() *cobra.Command {
	var verbosity int

	cmd := &cobra.Command{
		Use:   "osbastion",
		Short: "Provision and tear down transient SSH bastions for CI",
		Long: `osbastion creates an SSH bastion for the duration of a workflow and
removes it afterwards without leaking cloud resources.

Every resource it creates is recorded in a ledger file before the next one
is created, so teardown can run in a later step or on another runner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			handlers.SetupLogging(cmd.ErrOrStderr(), verbosity)
		},
	}

	cmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "Log verbosity (1 shows per-resource events)")

	// Lifecycle commands
	cmd.AddCommand(SetupBastion())
	cmd.AddCommand(TeardownBastion())
	cmd.AddCommand(Run())

	// Utility commands
	cmd.AddCommand(Status())
	cmd.AddCommand(RenderCloudInit())
	cmd.AddCommand(Validate())
	cmd.AddCommand(Version())

	return cmd
}
