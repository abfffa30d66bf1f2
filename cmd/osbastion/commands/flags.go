package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/osbastion/cmd/osbastion/handlers"
)

// overrideFlags binds the flags shared by the lifecycle commands.
type overrideFlags struct {
	specFile     string
	ledgerPath   string
	metricsFile  string
	cloudInitDir string
	keyType      string
	sweep        bool
	wait         bool
}

func (f *overrideFlags) bindCommon(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.specFile, "spec-file", "", "YAML file with the bastion spec (inputs override its fields)")
	cmd.Flags().StringVar(&f.ledgerPath, "ledger", "", "Ledger file (default: $RUNNER_TEMP/<name>.ledger.json)")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path")
}

func (f *overrideFlags) bindSetup(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cloudInitDir, "cloud-init-dir", "", "Directory of cloud-init fragments")
	cmd.Flags().StringVar(&f.keyType, "key-type", "", "Type of the generated key pair: ed25519 or rsa")
	cmd.Flags().BoolVar(&f.wait, "wait-for-cloud-init", false, "Wait until cloud-init has finished before reporting ready")
}

func (f *overrideFlags) bindTeardown(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.sweep, "sweep", false, "Also delete unrecorded resources named after the bastion")
}

// overrides converts the flags, leaving unset booleans to the inputs.
func (f *overrideFlags) overrides(cmd *cobra.Command) handlers.Overrides {
	o := handlers.Overrides{
		SpecFile:     f.specFile,
		LedgerPath:   f.ledgerPath,
		MetricsFile:  f.metricsFile,
		CloudInitDir: f.cloudInitDir,
		KeyType:      f.keyType,
	}
	if flag := cmd.Flags().Lookup("sweep"); flag != nil && flag.Changed {
		o.Sweep = &f.sweep
	}
	if flag := cmd.Flags().Lookup("wait-for-cloud-init"); flag != nil && flag.Changed {
		o.Wait = &f.wait
	}
	return o
}
