package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"github.com/isol8/isol8/internal/imagebuilder"
)

var setupNoCache bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Build or pull the runtime images the registry references",
	Long: `Builds (or rebuilds, with --no-cache) the base image for every
registered runtime, embedding this isol8 binary at /usr/local/bin/isol8 so
the in-container filtering proxy can be started inside each sandbox.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().BoolVar(&setupNoCache, "no-cache", false, "rebuild every image even if already present")
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	binary, err := os.ReadFile(selfExecutablePath())
	if err != nil {
		return fmt.Errorf("reading own binary for image embedding: %w", err)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}
	defer cli.Close()

	b := imagebuilder.NewBuilder(cli)
	return b.EnsureRuntimeImages(ctx, imagebuilder.BuildOptions{
		NoCache: setupNoCache,
		Binary:  binary,
	})
}

func selfExecutablePath() string {
	path, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return path
}
