// Package gateway implements the remote gateway (C8): an HTTP server that
// wraps one local engine instance, authenticating every non-health request
// with a bearer key.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/isol8/isol8/internal/engine"
	"github.com/isol8/isol8/internal/errkind"
	"github.com/isol8/isol8/internal/log"
)

// Gateway is the HTTP API in front of one Engine.
type Gateway struct {
	eng       *engine.Engine
	key       string
	startedAt time.Time
	server    *http.Server
}

// New constructs a Gateway authenticating requests against key.
func New(eng *engine.Engine, key string) *Gateway {
	g := &Gateway{eng: eng, key: key, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("POST /execute", g.withAuth(g.handleExecute))
	mux.HandleFunc("POST /execute/stream", g.withAuth(g.handleExecuteStream))

	g.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return g
}

// Handler exposes the gateway's http.Handler, for embedding or tests.
func (g *Gateway) Handler() http.Handler { return g.server.Handler }

// ListenAndServe starts the gateway on addr and blocks until it errors or is
// shut down.
func (g *Gateway) ListenAndServe(addr string) error {
	g.server.Addr = addr
	return g.server.ListenAndServe()
}

func (g *Gateway) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "malformed Authorization header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.key)) != 1 {
			writeError(w, http.StatusForbidden, "invalid key")
			return
		}
		next(w, r)
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	UptimeMs  int64  `json:"uptimeMs"`
	StartedAt string `json:"startedAt"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		UptimeMs:  time.Since(g.startedAt).Milliseconds(),
		StartedAt: g.startedAt.Format(time.RFC3339),
	})
}

// wireRequest mirrors engine.Request over the wire.
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

// wireRequestEnvelope is the documented POST /execute and /execute/stream
// body shape: the ExecutionRequest nested under a "request" key.
type wireRequestEnvelope struct {
	Request wireRequest `json:"request"`
}

func (wr wireRequest) toEngineRequest() engine.Request {
	files := make(map[string][]byte, len(wr.Files))
	for k, v := range wr.Files {
		files[k] = []byte(v)
	}
	return engine.Request{
		Code:            wr.Code,
		Runtime:         wr.Runtime,
		Files:           files,
		Env:             wr.Env,
		Secrets:         wr.Secrets,
		InstallPackages: wr.InstallPackages,
		Stdin:           []byte(wr.Stdin),
		TimeoutMs:       wr.TimeoutMs,
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

// wireResultEnvelope is the documented POST /execute success body shape: the
// ExecutionResult nested under a "result" key.
type wireResultEnvelope struct {
	Result wireResult `json:"result"`
}

func toWireResult(r engine.Result) wireResult {
	var logs []wireNetworkLog
	for _, l := range r.NetworkLogs {
		logs = append(logs, wireNetworkLog{
			TimestampMs: l.TimestampMs, Host: l.Host, Method: l.Method,
			Path: l.Path, StatusCode: l.StatusCode, Action: l.Action, DurationMs: l.DurationMs,
		})
	}
	return wireResult{
		ExitCode: r.ExitCode, Stdout: r.Stdout, Stderr: r.Stderr,
		DurationMs: r.DurationMs, Truncated: r.Truncated, NetworkLogs: logs,
	}
}

func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	var env wireRequestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := g.eng.Execute(r.Context(), env.Request.toEngineRequest())
	if err != nil {
		g.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wireResultEnvelope{Result: toWireResult(result)})
}

type wireStreamEvent struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	ExitCode int64  `json:"exitCode,omitempty"`
}

func (g *Gateway) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var env wireRequestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	events, err := g.eng.ExecuteStream(r.Context(), env.Request.toEngineRequest())
	if err != nil {
		g.writeEngineError(w, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for ev := range events {
		wev := wireStreamEvent{Type: string(ev.Type), ExitCode: ev.ExitCode}
		if ev.Data != nil {
			wev.Data = string(ev.Data)
		}
		if err := enc.Encode(wev); err != nil {
			log.Warn("gateway: stream encode failed", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (g *Gateway) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errkind.Is(err, errkind.BadRequest), errkind.Is(err, errkind.UnknownRuntime):
		writeError(w, http.StatusBadRequest, err.Error())
	case errkind.Is(err, errkind.EngineStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Warn("gateway: engine error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
