// Package cli implements the isol8 command-line interface using Cobra: run,
// serve, config, cleanup, setup, plus the hidden __sandboxproxy entry point
// every runtime image execs to start the in-container filtering proxy.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isol8/isol8/internal/log"
)

// Version is the embedded semver, set at build time via -ldflags.
var Version = "dev"

var (
	verbose     bool
	jsonOut     bool
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "isol8",
	Short: "isol8 - sandboxed code execution engine",
	Long: `isol8 runs untrusted code in ephemeral or persistent containers with
resource limits, a non-root seccomp-confined user, and optional network
filtering through an in-container proxy that logs every attempted host.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("isol8 version %s\n", Version)
			return nil
		}
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Init(log.Options{Verbose: verbose, JSONFormat: jsonOut})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "V", false, "print version and exit")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func exitf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
