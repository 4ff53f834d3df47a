package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/isol8/isol8/internal/containerrt"
	"github.com/isol8/isol8/internal/errkind"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu         sync.Mutex
	nextID     int
	containers map[string]bool

	// execHook lets a test override default exec behavior for specific
	// commands (e.g. to simulate a hang for timeout tests).
	execHook func(cfg containerrt.ExecConfig) (*containerrt.ExecResult, bool)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]bool)}
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return nil }

func (f *fakeRuntime) CreateContainer(ctx context.Context, cfg containerrt.Config) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "c" + string(rune('0'+f.nextID))
	f.containers[id] = true
	return id, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, id string) error { return nil }

func (f *fakeRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	delete(f.containers, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) InspectState(ctx context.Context, id string) (containerrt.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return containerrt.ContainerState{Running: f.containers[id]}, nil
}

func instantResult(stdout, stderr string, exitCode int64) *containerrt.ExecResult {
	return &containerrt.ExecResult{
		Stdout: strings.NewReader(stdout),
		Stderr: strings.NewReader(stderr),
		Wait:   func(ctx context.Context) (int64, error) { return exitCode, nil },
		Kill:   func(ctx context.Context) error { return nil },
	}
}

func (f *fakeRuntime) Exec(ctx context.Context, id string, cfg containerrt.ExecConfig) (*containerrt.ExecResult, error) {
	if f.execHook != nil {
		if res, handled := f.execHook(cfg); handled {
			return res, nil
		}
	}
	joined := strings.Join(cfg.Cmd, " ")
	switch {
	case strings.Contains(joined, "find /sandbox"):
		return instantResult("", "", 0), nil
	case strings.Contains(joined, "pidof isol8-proxy"):
		return instantResult("absent", "", 0), nil
	case len(cfg.Cmd) > 0 && cfg.Cmd[0] == "pip":
		return instantResult("installed", "", 0), nil
	default:
		return instantResult("hello\n", "", 0), nil
	}
}

func (f *fakeRuntime) ListTopPIDs(ctx context.Context, id string) ([]int, error) { return nil, nil }
func (f *fakeRuntime) KillPIDs(ctx context.Context, id string, pids []int) error { return nil }

func (f *fakeRuntime) CopyToContainer(ctx context.Context, id string, dstDir string, tarArchive []byte) error {
	return nil
}
func (f *fakeRuntime) CopyFromContainer(ctx context.Context, id string, srcPath string) ([]byte, error) {
	return nil, nil
}
func (f *fakeRuntime) SetupFirewall(ctx context.Context, id string, proxyPort int) error { return nil }
func (f *fakeRuntime) SupportsGVisor(ctx context.Context) bool                          { return false }
func (f *fakeRuntime) ListManagedContainers(ctx context.Context) ([]string, error)      { return nil, nil }
func (f *fakeRuntime) Close() error                                                     { return nil }

func testOptions() EngineOptions {
	o := DefaultEngineOptions()
	o.AdmissionLimit = 4
	return o
}

func TestExecuteHappyPath(t *testing.T) {
	rt := newFakeRuntime()
	e := New(rt, testOptions())

	result, err := e.Execute(context.Background(), Request{
		Code:      "print('hi')",
		Runtime:   "python",
		TimeoutMs: 5000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), result.ExitCode)
	require.Equal(t, "hello\n", result.Stdout)
}

func TestExecuteUnknownRuntime(t *testing.T) {
	rt := newFakeRuntime()
	e := New(rt, testOptions())

	_, err := e.Execute(context.Background(), Request{Code: "x", Runtime: "cobol"})
	require.ErrorIs(t, err, errkind.UnknownRuntime)
}

func TestExecuteRejectsNonAbsoluteFilePath(t *testing.T) {
	rt := newFakeRuntime()
	e := New(rt, testOptions())

	_, err := e.Execute(context.Background(), Request{
		Code:    "x",
		Runtime: "python",
		Files:   map[string][]byte{"relative.txt": []byte("data")},
	})
	require.ErrorIs(t, err, errkind.BadRequest)
}

func TestExecuteRejectsBadPackageName(t *testing.T) {
	rt := newFakeRuntime()
	e := New(rt, testOptions())

	_, err := e.Execute(context.Background(), Request{
		Code: "x", Runtime: "python", InstallPackages: []string{"bad pkg!"},
	})
	require.ErrorIs(t, err, errkind.BadRequest)
}

func TestExecuteSecretsAreMasked(t *testing.T) {
	rt := newFakeRuntime()
	rt.execHook = func(cfg containerrt.ExecConfig) (*containerrt.ExecResult, bool) {
		if cfg.User == "sandbox" && len(cfg.Cmd) > 0 && cfg.Cmd[0] == "python3" {
			return instantResult("token=sekret123 done\n", "", 0), true
		}
		return nil, false
	}
	e := New(rt, testOptions())

	result, err := e.Execute(context.Background(), Request{
		Code:    "print(os.environ['TOKEN'])",
		Runtime: "python",
		Secrets: map[string]string{"TOKEN": "sekret123"},
	})
	require.NoError(t, err)
	require.Contains(t, result.Stdout, "***")
	require.NotContains(t, result.Stdout, "sekret123")
}

func TestExecuteTimeout(t *testing.T) {
	rt := newFakeRuntime()
	rt.execHook = func(cfg containerrt.ExecConfig) (*containerrt.ExecResult, bool) {
		if len(cfg.Cmd) > 0 && cfg.Cmd[0] == "python3" {
			return &containerrt.ExecResult{
				Stdout: strings.NewReader(""),
				Stderr: strings.NewReader(""),
				Wait: func(ctx context.Context) (int64, error) {
					<-ctx.Done()
					return 0, ctx.Err()
				},
				Kill: func(ctx context.Context) error { return nil },
			}, true
		}
		return nil, false
	}
	e := New(rt, testOptions())

	start := time.Now()
	result, err := e.Execute(context.Background(), Request{
		Code: "while True: pass", Runtime: "python", TimeoutMs: 50,
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, int64(137), result.ExitCode)
	require.Contains(t, result.Stderr, "EXECUTION TIMED OUT")
}

func TestExecuteAutoPromotesNetworkOnInstall(t *testing.T) {
	rt := newFakeRuntime()
	e := New(rt, testOptions())

	r, err := e.resolve(Request{Code: "x", Runtime: "python", InstallPackages: []string{"requests"}})
	require.NoError(t, err)
	require.Equal(t, NetworkFiltered, r.network)
	require.NotEmpty(t, r.whitelist)
}

func TestExecuteStreamConcatEqualsExecuteOutput(t *testing.T) {
	rt := newFakeRuntime()
	e := New(rt, testOptions())

	ch, err := e.ExecuteStream(context.Background(), Request{Code: "print('hi')", Runtime: "python"})
	require.NoError(t, err)

	var stdout bytes.Buffer
	var exitCode int64
	for ev := range ch {
		switch ev.Type {
		case StreamStdout:
			stdout.Write(ev.Data)
		case StreamExit:
			exitCode = ev.ExitCode
		}
	}
	require.Equal(t, "hello\n", stdout.String())
	require.Equal(t, int64(0), exitCode)
}
