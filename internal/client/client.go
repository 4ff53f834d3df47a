// Package client implements the remote client (C9): an HTTP wrapper that
// mirrors the engine's Execute/ExecuteStream contract so callers can't tell
// whether they're talking to a local Engine or a remote Gateway.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/isol8/isol8/internal/engine"
)

// Client talks to a gateway's HTTP API.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

// New constructs a Client against baseURL (e.g. "http://127.0.0.1:3000"),
// authenticating with key.
func New(baseURL, key string) *Client {
	return &Client{
		baseURL:    baseURL,
		key:        key,
		httpClient: &http.Client{Timeout: 0},
	}
}

type wireRequest struct {
	Code            string            `json:"code"`
	Runtime         string            `json:"runtime"`
	Files           map[string]string `json:"files,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Secrets         map[string]string `json:"secrets,omitempty"`
	InstallPackages []string          `json:"installPackages,omitempty"`
	Stdin           string            `json:"stdin,omitempty"`
	TimeoutMs       int64             `json:"timeoutMs,omitempty"`
}

// wireRequestEnvelope mirrors the gateway's documented POST /execute and
// /execute/stream body shape: the request nested under a "request" key.
type wireRequestEnvelope struct {
	Request wireRequest `json:"request"`
}

func toWireRequest(req engine.Request) wireRequest {
	files := make(map[string]string, len(req.Files))
	for k, v := range req.Files {
		files[k] = string(v)
	}
	return wireRequest{
		Code: req.Code, Runtime: req.Runtime, Files: files, Env: req.Env,
		Secrets: req.Secrets, InstallPackages: req.InstallPackages,
		Stdin: string(req.Stdin), TimeoutMs: req.TimeoutMs,
	}
}

type wireNetworkLog struct {
	TimestampMs int64  `json:"timestampMs"`
	Host        string `json:"host"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Action      string `json:"action"`
	DurationMs  int64  `json:"durationMs"`
}

type wireResult struct {
	ExitCode    int64            `json:"exitCode"`
	Stdout      string           `json:"stdout"`
	Stderr      string           `json:"stderr"`
	DurationMs  int64            `json:"durationMs"`
	Truncated   bool             `json:"truncated"`
	NetworkLogs []wireNetworkLog `json:"networkLogs,omitempty"`
}

// wireResultEnvelope mirrors the gateway's documented POST /execute success
// body shape: the result nested under a "result" key.
type wireResultEnvelope struct {
	Result wireResult `json:"result"`
}

func (wr wireResult) toEngineResult() engine.Result {
	logs := make([]engine.NetworkLogEntry, 0, len(wr.NetworkLogs))
	for _, l := range wr.NetworkLogs {
		logs = append(logs, engine.NetworkLogEntry{
			TimestampMs: l.TimestampMs, Host: l.Host, Method: l.Method,
			Path: l.Path, StatusCode: l.StatusCode, Action: l.Action, DurationMs: l.DurationMs,
		})
	}
	return engine.Result{
		ExitCode: wr.ExitCode, Stdout: wr.Stdout, Stderr: wr.Stderr,
		DurationMs: wr.DurationMs, Truncated: wr.Truncated, NetworkLogs: logs,
	}
}

// Health checks the gateway's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)
	return req, nil
}

func readGatewayError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	return fmt.Errorf("gateway: %s (%d)", body.Error, resp.StatusCode)
}

// Execute mirrors engine.Engine.Execute over HTTP.
func (c *Client) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	body, err := json.Marshal(wireRequestEnvelope{Request: toWireRequest(req)})
	if err != nil {
		return engine.Result{}, err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/execute", body)
	if err != nil {
		return engine.Result{}, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return engine.Result{}, fmt.Errorf("connecting to gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return engine.Result{}, readGatewayError(resp)
	}
	var env wireResultEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return engine.Result{}, err
	}
	return env.Result.toEngineResult(), nil
}

type wireStreamEvent struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	ExitCode int64  `json:"exitCode,omitempty"`
}

// ExecuteStream mirrors engine.Engine.ExecuteStream over HTTP, decoding the
// gateway's ndjson response one line at a time.
func (c *Client) ExecuteStream(ctx context.Context, req engine.Request) (<-chan engine.StreamEvent, error) {
	body, err := json.Marshal(wireRequestEnvelope{Request: toWireRequest(req)})
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/execute/stream", body)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readGatewayError(resp)
	}

	out := make(chan engine.StreamEvent, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var wev wireStreamEvent
			if err := json.Unmarshal(scanner.Bytes(), &wev); err != nil {
				return
			}
			ev := engine.StreamEvent{Type: engine.StreamEventType(wev.Type), ExitCode: wev.ExitCode}
			if wev.Data != "" {
				ev.Data = []byte(wev.Data)
			}
			out <- ev
		}
	}()
	return out, nil
}
