package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/isol8/isol8/internal/sandboxproxy"
)

var (
	proxyPort      int
	proxyWhitelist string
	proxyBlacklist string
	proxyLogPath   string
)

// sandboxProxyCmd is the hidden subcommand the engine execs inside every
// filtered-network container (see internal/engine/proxylaunch.go). It is
// never invoked by a human directly, so it carries no Short/Long text and
// is hidden from `isol8 --help`.
var sandboxProxyCmd = &cobra.Command{
	Use:    "__sandboxproxy",
	Hidden: true,
	RunE:   runSandboxProxy,
}

func init() {
	rootCmd.AddCommand(sandboxProxyCmd)
	sandboxProxyCmd.Flags().IntVar(&proxyPort, "port", 3128, "listen port, bound on 127.0.0.1")
	sandboxProxyCmd.Flags().StringVar(&proxyWhitelist, "whitelist", "[]", "JSON array of allowed-host regex patterns")
	sandboxProxyCmd.Flags().StringVar(&proxyBlacklist, "blacklist", "[]", "JSON array of blocked-host regex patterns")
	sandboxProxyCmd.Flags().StringVar(&proxyLogPath, "log", "", "path to append decision records as JSON lines")
}

func runSandboxProxy(cmd *cobra.Command, args []string) error {
	var whitelistPatterns, blacklistPatterns []string
	if err := json.Unmarshal([]byte(proxyWhitelist), &whitelistPatterns); err != nil {
		return fmt.Errorf("decoding --whitelist: %w", err)
	}
	if err := json.Unmarshal([]byte(proxyBlacklist), &blacklistPatterns); err != nil {
		return fmt.Errorf("decoding --blacklist: %w", err)
	}

	whitelist, err := sandboxproxy.CompileList(whitelistPatterns)
	if err != nil {
		return fmt.Errorf("compiling --whitelist: %w", err)
	}
	blacklist, err := sandboxproxy.CompileList(blacklistPatterns)
	if err != nil {
		return fmt.Errorf("compiling --blacklist: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	proxy := sandboxproxy.New(whitelist, blacklist)

	if proxyLogPath != "" {
		go drainNetworkLog(ctx, proxy, proxyLogPath)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", proxyPort)
	return proxy.ListenAndServe(ctx, addr)
}

// drainNetworkLog periodically flushes the proxy's in-memory decision log
// to logPath, one JSON object per entry, for the engine to read back and
// truncate between executions.
func drainNetworkLog(ctx context.Context, proxy *sandboxproxy.Proxy, logPath string) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			appendNetworkLogEntries(proxy.Log().Drain(), logPath)
			return
		case <-ticker.C:
			appendNetworkLogEntries(proxy.Log().Drain(), logPath)
		}
	}
}

func appendNetworkLogEntries(entries []sandboxproxy.Entry, logPath string) {
	if len(entries) == 0 {
		return
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		action := "ALLOW"
		if e.Action == sandboxproxy.Block {
			action = "BLOCK"
		}
		_ = enc.Encode(networkLogRecord{
			TimestampMs: e.At.UnixMilli(),
			Host:        e.Host,
			Method:      e.Method,
			Path:        e.Path,
			StatusCode:  e.StatusCode,
			Action:      action,
			DurationMs:  e.DurationMs,
		})
	}
}

// networkLogRecord mirrors internal/engine's unexported netlogRecord. The
// two must stay in lockstep since the engine parses this JSON back out of
// the container's netlog file.
type networkLogRecord struct {
	TimestampMs int64  `json:"timestampMs"`
	Host        string `json:"host"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	StatusCode  int    `json:"statusCode"`
	Action      string `json:"action"`
	DurationMs  int64  `json:"durationMs"`
}
