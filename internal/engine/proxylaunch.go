package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/isol8/isol8/internal/containerrt"
)

// inContainerBinary is where the imagebuilder (C10) installs the isol8
// binary inside every runtime image, so the container can run its own
// filtering proxy without a separate process image.
const inContainerBinary = "/usr/local/bin/isol8"

// ensureProxyRunning starts the in-container filtering proxy if it isn't
// already listening. Detection is a best-effort pidof check; starting it
// twice is harmless since the second instance fails to bind the port and
// exits.
func ensureProxyRunning(ctx context.Context, rt containerrt.Runtime, containerID string, port int, filter NetworkFilter) error {
	check, err := rt.Exec(ctx, containerID, containerrt.ExecConfig{
		Cmd:  []string{"sh", "-c", fmt.Sprintf("pidof isol8-proxy >/dev/null 2>&1 && echo running || echo absent")},
		User: "root",
	})
	if err != nil {
		return fmt.Errorf("check proxy status: %w", err)
	}
	if _, err := check.Wait(ctx); err != nil {
		return fmt.Errorf("check proxy status wait: %w", err)
	}

	wl, _ := json.Marshal(filter.Whitelist)
	bl, _ := json.Marshal(filter.Blacklist)

	cmd := fmt.Sprintf(
		"pidof isol8-proxy >/dev/null 2>&1 || (exec -a isol8-proxy %s __sandboxproxy --port %d --whitelist %s --blacklist %s --log %s </dev/null >/dev/null 2>&1 &)",
		inContainerBinary, port, shellQuote(string(wl)), shellQuote(string(bl)), netlogPath,
	)
	start, err := rt.Exec(ctx, containerID, containerrt.ExecConfig{
		Cmd:  []string{"sh", "-c", cmd},
		User: "root",
	})
	if err != nil {
		return fmt.Errorf("start proxy: %w", err)
	}
	if _, err := start.Wait(ctx); err != nil {
		return fmt.Errorf("start proxy wait: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
