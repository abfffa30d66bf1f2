package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
	"github.com/imamik/osbastion/internal/config"
)

// RenderCloudInit returns the render-cloud-init command.
func RenderCloudInit() *cobra.Command {
	var flags overrideFlags

	cmd := &cobra.Command{
		Use:   "render-cloud-init",
		Short: "Print the cloud-init user-data for the current inputs",
		Long: `Print the user-data document setup-bastion would pass to the server.
Rendering is deterministic, so the output can be diffed between changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.RenderCloudInit(config.FromEnv(), flags.overrides(cmd), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.specFile, "spec-file", "", "YAML file with the bastion spec")
	cmd.Flags().StringVar(&flags.cloudInitDir, "cloud-init-dir", "", "Directory of cloud-init fragments")

	return cmd
}
