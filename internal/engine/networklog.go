package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/isol8/isol8/internal/containerrt"
)

// netlogPath is where the in-container proxy appends one JSON object per
// decision. It lives on the /sandbox tmpfs so it never survives a cleanup
// wipe between executions.
const netlogPath = "/sandbox/.isol8-netlog.jsonl"

type netlogRecord struct {
	TimestampMs int64  `json:"timestampMs"`
	Host        string `json:"host"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	StatusCode  int    `json:"statusCode"`
	Action      string `json:"action"`
	DurationMs  int64  `json:"durationMs"`
}

// readAndClearNetworkLog reads back the proxy's decision log for a worker
// and truncates it, so the next execution on the same (reused) worker
// starts from an empty log.
func readAndClearNetworkLog(ctx context.Context, rt containerrt.Runtime, containerID string) ([]NetworkLogEntry, error) {
	res, err := rt.Exec(ctx, containerID, containerrt.ExecConfig{
		Cmd:  []string{"sh", "-c", fmt.Sprintf("cat %s 2>/dev/null; : > %s 2>/dev/null || true", netlogPath, netlogPath)},
		User: "root",
	})
	if err != nil {
		return nil, fmt.Errorf("read network log: %w", err)
	}
	var buf bytes.Buffer
	if res.Stdout != nil {
		_, _ = buf.ReadFrom(res.Stdout)
	}
	if _, err := res.Wait(ctx); err != nil {
		return nil, fmt.Errorf("read network log wait: %w", err)
	}

	var entries []NetworkLogEntry
	dec := json.NewDecoder(&buf)
	for {
		var rec netlogRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		entries = append(entries, NetworkLogEntry{
			TimestampMs: rec.TimestampMs,
			Host:        rec.Host,
			Method:      rec.Method,
			Path:        rec.Path,
			StatusCode:  rec.StatusCode,
			Action:      rec.Action,
			DurationMs:  rec.DurationMs,
		})
	}
	return entries, nil
}
