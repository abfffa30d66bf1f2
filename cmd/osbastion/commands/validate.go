package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/manifest"
)

// Validate returns the validate command.
func Validate() *cobra.Command {
	var (
		flags        overrideFlags
		manifestPath string
		withInputs   bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate action.yaml and the files it references",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Validate(config.FromEnv(), manifestPath, withInputs, flags.overrides(cmd), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", manifest.FileName, "Path to the action manifest")
	cmd.Flags().BoolVar(&withInputs, "inputs", false, "Also validate the current inputs")
	cmd.Flags().StringVar(&flags.specFile, "spec-file", "", "YAML file with the bastion spec")

	return cmd
}
