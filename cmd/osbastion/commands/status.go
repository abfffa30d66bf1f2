package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
	"github.com/imamik/osbastion/internal/config"
)

// Status returns the status command.
func Status() *cobra.Command {
	var (
		ledgerPath string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the bastion's ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Status(config.FromEnv(), ledgerPath, format, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "Ledger file (default: derived from the bastion name)")
	cmd.Flags().StringVarP(&format, "output", "o", handlers.FormatText, "Output format: text, json or yaml")

	return cmd
}
