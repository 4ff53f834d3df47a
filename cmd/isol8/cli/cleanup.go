package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isol8/isol8/internal/containerrt"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Force-remove orphaned isol8-managed containers",
	Long: `Lists every container carrying the isol8.managed=true label and force-
removes it. Use after a crash to reclaim containers the engine's normal
drain/destroy path never got to run against.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := containerrt.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("connecting to container runtime: %w", err)
	}
	defer rt.Close()

	ids, err := rt.ListManagedContainers(ctx)
	if err != nil {
		return fmt.Errorf("listing managed containers: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No managed containers found")
		return nil
	}

	var failed int
	for _, id := range ids {
		fmt.Printf("Removing %s... ", id)
		if err := rt.RemoveContainer(ctx, id, true); err != nil {
			fmt.Printf("error: %v\n", err)
			failed++
			continue
		}
		fmt.Println("done")
	}
	if failed > 0 {
		return fmt.Errorf("cleanup: %d of %d containers failed to remove", failed, len(ids))
	}
	return nil
}
