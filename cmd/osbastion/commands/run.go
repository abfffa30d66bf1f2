package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/manifest"
)

// Run returns the run command used by the action's scripts.
func Run() *cobra.Command {
	var (
		flags        overrideFlags
		manifestPath string
		operation    string
		yes          bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate the action manifest and run the selected operation",
		Long: `Validate action.yaml, apply its input defaults and dispatch on the
operation input: create runs setup-bastion, destroy runs teardown-bastion.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Run(cmd.Context(), config.FromEnv(), manifestPath, operation, flags.overrides(cmd), yes, cmd.OutOrStdout())
		},
	}

	flags.bindCommon(cmd)
	flags.bindSetup(cmd)
	flags.bindTeardown(cmd)
	cmd.Flags().StringVar(&manifestPath, "manifest", manifest.FileName, "Path to the action manifest")
	cmd.Flags().StringVar(&operation, "operation", "", "create or destroy (default: the operation input)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation on a terminal")

	return cmd
}
