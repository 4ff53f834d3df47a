package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/isol8/isol8/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective merged engine options",
	Long: `Loads isol8.config.json from the current directory (if present),
overlays it onto the built-in defaults, and prints the result as JSON.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	opts, err := config.Load(".")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(opts)
}
