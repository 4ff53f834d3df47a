package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/isol8/isol8/internal/containerrt"
	"github.com/isol8/isol8/internal/engine"
	"github.com/stretchr/testify/require"
)

// minimalFakeRuntime is just enough of containerrt.Runtime for the gateway's
// auth/routing tests, which need one successful Execute call to reach to
// prove the 200 path, not a full container lifecycle.
type minimalFakeRuntime struct{ n int }

func newMinimalFakeRuntime() *minimalFakeRuntime { return &minimalFakeRuntime{} }

func (f *minimalFakeRuntime) Ping(ctx context.Context) error { return nil }
func (f *minimalFakeRuntime) CreateContainer(ctx context.Context, cfg containerrt.Config) (string, error) {
	f.n++
	return "c" + string(rune('0'+f.n)), nil
}
func (f *minimalFakeRuntime) StartContainer(ctx context.Context, id string) error { return nil }
func (f *minimalFakeRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	return nil
}
func (f *minimalFakeRuntime) InspectState(ctx context.Context, id string) (containerrt.ContainerState, error) {
	return containerrt.ContainerState{Running: true}, nil
}
func (f *minimalFakeRuntime) Exec(ctx context.Context, id string, cfg containerrt.ExecConfig) (*containerrt.ExecResult, error) {
	return &containerrt.ExecResult{
		Stdout: strings.NewReader("1\n"),
		Stderr: strings.NewReader(""),
		Wait:   func(ctx context.Context) (int64, error) { return 0, nil },
		Kill:   func(ctx context.Context) error { return nil },
	}, nil
}
func (f *minimalFakeRuntime) ListTopPIDs(ctx context.Context, id string) ([]int, error) {
	return nil, nil
}
func (f *minimalFakeRuntime) KillPIDs(ctx context.Context, id string, pids []int) error { return nil }
func (f *minimalFakeRuntime) CopyToContainer(ctx context.Context, id, dstDir string, tarArchive []byte) error {
	return nil
}
func (f *minimalFakeRuntime) CopyFromContainer(ctx context.Context, id, srcPath string) ([]byte, error) {
	return nil, nil
}
func (f *minimalFakeRuntime) SetupFirewall(ctx context.Context, id string, proxyPort int) error {
	return nil
}
func (f *minimalFakeRuntime) SupportsGVisor(ctx context.Context) bool { return false }
func (f *minimalFakeRuntime) ListManagedContainers(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *minimalFakeRuntime) Close() error { return nil }

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	return engine.New(newMinimalFakeRuntime(), engine.DefaultEngineOptions())
}

func TestHealthRequiresNoAuth(t *testing.T) {
	g := New(newTestEngine(t), "secret")
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecuteRejectsMissingAuth(t *testing.T) {
	g := New(newTestEngine(t), "secret")
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/execute", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExecuteRejectsWrongKey(t *testing.T) {
	g := New(newTestEngine(t), "secret")
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/execute", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExecuteUnknownRouteIs404(t *testing.T) {
	g := New(newTestEngine(t), "secret")
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteSucceedsWithValidKey(t *testing.T) {
	g := New(newTestEngine(t), "secret")
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	body, _ := json.Marshal(wireRequestEnvelope{Request: wireRequest{Code: "print(1)", Runtime: "python"}})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/execute", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env wireResultEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, int64(0), env.Result.ExitCode)
}
