package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/isol8/isol8/internal/config"
	"github.com/isol8/isol8/internal/containerrt"
	"github.com/isol8/isol8/internal/engine"
	"github.com/isol8/isol8/internal/gateway"
	"github.com/isol8/isol8/internal/log"
)

var (
	servePort int
	serveKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Launch the HTTP gateway in front of a local engine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (env: ISOL8_PORT, PORT; default 3000)")
	serveCmd.Flags().StringVar(&serveKey, "key", "", "bearer auth key (env: ISOL8_API_KEY)")
}

func resolvePort(flagVal int) int {
	if flagVal != 0 {
		return flagVal
	}
	if v := os.Getenv("ISOL8_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return 3000
}

func runServe(cmd *cobra.Command, args []string) error {
	key := serveKey
	if key == "" {
		key = os.Getenv("ISOL8_API_KEY")
	}
	if key == "" {
		exitf(1, "API key required")
	}

	port := resolvePort(servePort)

	opts, err := config.Load(".")
	if err != nil {
		return err
	}

	rt, err := containerrt.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("connecting to container runtime: %w", err)
	}
	defer rt.Close()

	eng := engine.New(rt, opts)
	defer eng.Stop(cmd.Context(), 0)

	gw := gateway.New(eng, key)
	addr := fmt.Sprintf(":%d", port)
	log.Info("serve: listening", "addr", addr)
	return gw.ListenAndServe(addr)
}
