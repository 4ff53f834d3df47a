package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isol8/isol8/internal/client"
	"github.com/isol8/isol8/internal/config"
	"github.com/isol8/isol8/internal/containerrt"
	"github.com/isol8/isol8/internal/engine"
	"github.com/isol8/isol8/internal/registry"
)

var (
	runInlineCode  string
	runRuntime     string
	runEnv         []string
	runSecrets     []string
	runInstall     []string
	runNetwork     string
	runTimeoutMs   int64
	runRemote      string
	runRemoteKey   string
)

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Run code in a sandboxed container",
	Long: `Run executes one program in a sandboxed container and propagates its
exit code.

The program source comes from exactly one of: -e/--code, a file path
argument, or stdin.

Examples:
  isol8 run -e 'print("hi")' --runtime python
  isol8 run ./script.py
  echo 'console.log(1)' | isol8 run --runtime node`,
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runInlineCode, "code", "e", "", "inline source code")
	runCmd.Flags().StringVar(&runRuntime, "runtime", "", "runtime tag (python, node, bun, deno, bash)")
	runCmd.Flags().StringArrayVar(&runEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().StringArrayVar(&runSecrets, "secret", nil, "masked environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().StringArrayVar(&runInstall, "install", nil, "package to install before running (repeatable)")
	runCmd.Flags().StringVar(&runNetwork, "network", "", "network mode: none, host, or filtered")
	runCmd.Flags().Int64Var(&runTimeoutMs, "timeout-ms", 0, "execution timeout in milliseconds (0 = engine default)")
	runCmd.Flags().StringVar(&runRemote, "remote", "", "gateway base URL (e.g. http://127.0.0.1:3000); empty runs locally")
	runCmd.Flags().StringVar(&runRemoteKey, "remote-key", "", "gateway bearer key (falls back to ISOL8_API_KEY)")
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid KEY=VALUE pair %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func readSource(args []string) (string, string, error) {
	if runInlineCode != "" {
		return runInlineCode, "", nil
	}
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("reading %s: %w", args[0], err)
		}
		return string(data), args[0], nil
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), "", nil
	}
	return "", "", fmt.Errorf("no source: pass -e/--code, a file path, or pipe via stdin")
}

func runExecute(cmd *cobra.Command, args []string) error {
	code, path, err := readSource(args)
	if err != nil {
		return err
	}

	runtimeName := runRuntime
	var files map[string][]byte
	if runtimeName == "" && path != "" {
		ad, err := registry.Detect(path)
		if err != nil {
			return err
		}
		runtimeName = ad.Name
	}
	if runtimeName == "" {
		return fmt.Errorf("--runtime is required when source isn't a recognizable file path")
	}

	env, err := parseKeyValues(runEnv)
	if err != nil {
		return err
	}
	secrets, err := parseKeyValues(runSecrets)
	if err != nil {
		return err
	}

	req := engine.Request{
		Code:            code,
		Runtime:         runtimeName,
		Files:           files,
		Env:             env,
		Secrets:         secrets,
		InstallPackages: runInstall,
		TimeoutMs:       runTimeoutMs,
	}
	if runNetwork != "" {
		req.Network = engine.NetworkMode(runNetwork)
	}

	ctx := context.Background()
	var result engine.Result
	if runRemote != "" {
		key := runRemoteKey
		if key == "" {
			key = os.Getenv("ISOL8_API_KEY")
		}
		result, err = client.New(runRemote, key).Execute(ctx, req)
	} else {
		result, err = executeLocal(ctx, req)
	}
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stdout, result.Stdout)
	fmt.Fprint(os.Stderr, result.Stderr)
	os.Exit(int(result.ExitCode))
	return nil
}

// executeLocal spins up a one-shot local engine against the Docker runtime,
// for `run` invocations without --remote.
func executeLocal(ctx context.Context, req engine.Request) (engine.Result, error) {
	opts, err := config.Load(".")
	if err != nil {
		return engine.Result{}, err
	}

	rt, err := containerrt.NewDockerRuntime()
	if err != nil {
		return engine.Result{}, fmt.Errorf("connecting to container runtime: %w", err)
	}
	defer rt.Close()

	eng := engine.New(rt, opts)
	defer eng.Stop(ctx, 0)

	return eng.Execute(ctx, req)
}
