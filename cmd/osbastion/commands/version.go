package commands

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo records the ldflags-injected build metadata.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

// moduleVersion prefers the module version stamped by `go install` when
// no release version was injected, e.g. for `uses: ./` builds.
func moduleVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

// Version returns the version command.
func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "osbastion %s\n  commit: %s\n  built:  %s\n  go:     %s %s/%s\n",
				moduleVersion(), commit, date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
