package engine

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/isol8/isol8/internal/admission"
	"github.com/isol8/isol8/internal/containerrt"
	"github.com/isol8/isol8/internal/errkind"
	"github.com/isol8/isol8/internal/id"
	"github.com/isol8/isol8/internal/log"
	"github.com/isol8/isol8/internal/outpututil"
	"github.com/isol8/isol8/internal/pool"
	"github.com/isol8/isol8/internal/registry"
	"github.com/isol8/isol8/internal/tarcodec"
)

var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@/=\-]+$`)

// Engine runs executions against a pooled set of containers.
type Engine struct {
	rt   containerrt.Runtime
	pool *pool.Pool
	sem  *admission.Semaphore
	opts EngineOptions

	// persistentWorkers caches the one dedicated worker per key for
	// Mode == ModePersistent.
	persistentWorkers map[pool.Key]*pool.Worker
}

// New constructs an Engine backed by rt.
func New(rt containerrt.Runtime, opts EngineOptions) *Engine {
	factory := newDockerFactory(rt, opts)
	p := pool.New(factory, opts.PoolStrategy, pool.Sizes{Clean: opts.PoolClean, Dirty: opts.PoolDirty})
	return &Engine{
		rt:                rt,
		pool:              p,
		sem:               admission.New(opts.AdmissionLimit),
		opts:              opts,
		persistentWorkers: make(map[pool.Key]*pool.Worker),
	}
}

// Stop drains the pool, destroying every idle worker, and rejects
// subsequent Execute/ExecuteStream calls with EngineStopped.
func (e *Engine) Stop(ctx context.Context, grace time.Duration) {
	e.pool.Drain(ctx, grace)
}

func effectiveInt64(override, base int64) int64 {
	if override > 0 {
		return override
	}
	return base
}

func effectiveNetwork(req Request, base NetworkMode) NetworkMode {
	if req.Network != "" {
		return req.Network
	}
	return base
}

// resolved holds step-2 outputs.
type resolved struct {
	adapter     registry.Adapter
	network     NetworkMode
	security    Security
	whitelist   []string
	blacklist   []string
	memoryBytes int64
	nanoCPUs    int64
	pidsLimit   int64
	sandboxMB   int64
	tmpMB       int64
	timeoutMs   int64
}

func (e *Engine) resolve(req Request) (resolved, error) {
	adapter, err := registry.Get(req.Runtime)
	if err != nil {
		return resolved{}, err
	}

	for _, pkg := range req.InstallPackages {
		if !packageNamePattern.MatchString(pkg) {
			return resolved{}, fmt.Errorf("%w: invalid package name %q", errkind.BadRequest, pkg)
		}
	}

	network := effectiveNetwork(req, e.opts.Network)
	whitelist := append([]string{}, e.opts.NetworkFilter.Whitelist...)
	blacklist := append([]string{}, e.opts.NetworkFilter.Blacklist...)
	if req.Filter != nil {
		whitelist = append(whitelist, req.Filter.Whitelist...)
		blacklist = append(blacklist, req.Filter.Blacklist...)
	}

	if len(req.InstallPackages) > 0 && network == NetworkNone && req.Network == "" {
		network = NetworkFiltered
		whitelist = append(whitelist, registry.PackageRegistryHosts(req.Runtime)...)
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}

	return resolved{
		adapter:     adapter,
		network:     network,
		security:    e.opts.Security,
		whitelist:   whitelist,
		blacklist:   blacklist,
		memoryBytes: effectiveInt64(req.MemoryBytes, e.opts.MemoryBytes),
		nanoCPUs:    effectiveInt64(req.NanoCPUs, e.opts.NanoCPUs),
		pidsLimit:   effectiveInt64(req.PidsLimit, e.opts.PidsLimit),
		sandboxMB:   effectiveInt64(req.SandboxMB, e.opts.SandboxMB),
		tmpMB:       effectiveInt64(req.TmpMB, e.opts.TmpMB),
		timeoutMs:   timeoutMs,
	}, nil
}

func (e *Engine) poolKey(r resolved) pool.Key {
	return pool.Key{Image: r.adapter.Image, NetworkMode: string(r.network), Security: string(r.security)}
}

func (e *Engine) acquireWorker(ctx context.Context, key pool.Key) (*pool.Worker, error) {
	if e.opts.Mode == ModePersistent {
		if w, ok := e.persistentWorkers[key]; ok {
			return w, nil
		}
		w, _, err := e.pool.Acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		e.persistentWorkers[key] = w
		return w, nil
	}
	w, _, err := e.pool.Acquire(ctx, key)
	return w, err
}

func (e *Engine) releaseWorker(ctx context.Context, key pool.Key, w *pool.Worker) {
	if e.opts.Mode == ModePersistent {
		return
	}
	e.pool.Release(ctx, key, w)
}

// Execute runs req to completion and returns its accumulated Result.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	if err := e.sem.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer e.sem.Release()

	execID := id.Generate("exec")
	log.SetExecID(execID)
	defer log.ClearExecID()

	r, err := e.resolve(req)
	if err != nil {
		return Result{}, err
	}
	key := e.poolKey(r)

	w, err := e.acquireWorker(ctx, key)
	if err != nil {
		return Result{}, err
	}
	released := false
	defer func() {
		if !released {
			e.releaseWorker(context.Background(), key, w)
		}
	}()

	if err := e.injectFiles(ctx, w.ContainerID, r, req); err != nil {
		return Result{}, err
	}

	if len(req.InstallPackages) > 0 {
		if err := e.installPackages(ctx, w.ContainerID, r, req.InstallPackages); err != nil {
			return Result{}, err
		}
	}

	if r.network == NetworkFiltered {
		if err := ensureProxyRunning(ctx, e.rt, w.ContainerID, e.opts.ProxyPort, NetworkFilter{Whitelist: r.whitelist, Blacklist: r.blacklist}); err != nil {
			return Result{}, fmt.Errorf("configure network: %w", err)
		}
	}

	result, err := e.run(ctx, w.ContainerID, r, req)
	if err != nil {
		return Result{}, err
	}

	if r.network == NetworkFiltered && e.opts.LogNetwork {
		logs, lerr := readAndClearNetworkLog(ctx, e.rt, w.ContainerID)
		if lerr != nil {
			log.Warn("engine: failed to read network log", "error", lerr)
		} else {
			result.NetworkLogs = logs
		}
	}

	e.releaseWorker(ctx, key, w)
	released = true
	return result, nil
}

func (e *Engine) injectFiles(ctx context.Context, containerID string, r resolved, req Request) error {
	mainPath := fmt.Sprintf("/sandbox/main%s", r.adapter.GetFileExtension())
	files := map[string][]byte{mainPath: []byte(req.Code)}
	for p, b := range req.Files {
		if len(p) == 0 || p[0] != '/' {
			return fmt.Errorf("%w: file path %q must be absolute", errkind.BadRequest, p)
		}
		files[p] = b
	}
	for p, b := range files {
		archive, err := tarcodec.Pack(p, b)
		if err != nil {
			return fmt.Errorf("pack %s: %w", p, err)
		}
		if err := e.rt.CopyToContainer(ctx, containerID, "/", archive); err != nil {
			return fmt.Errorf("inject %s: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) installPackages(ctx context.Context, containerID string, r resolved, packages []string) error {
	argv := r.adapter.GetInstallCommand(packages)
	if argv == nil {
		return fmt.Errorf("%w: runtime %q does not support package install", errkind.PackageInstallFailed, r.adapter.Name)
	}

	installCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	res, err := e.rt.Exec(installCtx, containerID, containerrt.ExecConfig{
		Cmd: argv, User: "sandbox", WorkingDir: "/sandbox",
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.PackageInstallFailed, err)
	}
	var stderr bytes.Buffer
	if res.Stderr != nil {
		_, _ = stderr.ReadFrom(res.Stderr)
	}
	code, err := res.Wait(installCtx)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.PackageInstallFailed, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: exit %d: %s", errkind.PackageInstallFailed, code, stderr.String())
	}
	return nil
}

func (e *Engine) run(ctx context.Context, containerID string, r resolved, req Request) (Result, error) {
	env := make([]string, 0, len(req.Env)+len(req.Secrets)+3)
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Secrets {
		env = append(env, k+"="+v)
	}
	if r.network == NetworkFiltered {
		proxyURL := fmt.Sprintf("http://127.0.0.1:%d", e.opts.ProxyPort)
		env = append(env, "HTTP_PROXY="+proxyURL, "HTTPS_PROXY="+proxyURL, "NO_PROXY=localhost,127.0.0.1")
	}

	mainPath := fmt.Sprintf("/sandbox/main%s", r.adapter.GetFileExtension())
	argv := r.adapter.GetCommand(req.Code, mainPath)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(r.timeoutMs)*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := e.rt.Exec(ctx, containerID, containerrt.ExecConfig{
		Cmd: argv, Env: env, User: "sandbox", WorkingDir: "/sandbox",
		AttachStdin: len(req.Stdin) > 0,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errkind.ContainerRuntimeUnavailable, err)
	}
	if res.Stdin != nil {
		if len(req.Stdin) > 0 {
			_, _ = res.Stdin.Write(req.Stdin)
		}
		_ = res.Stdin.Close()
	}

	var stdout, stderr bytes.Buffer
	done := make(chan struct{})
	go func() {
		if res.Stdout != nil {
			_, _ = stdout.ReadFrom(res.Stdout)
		}
		close(done)
	}()
	errDone := make(chan struct{})
	go func() {
		if res.Stderr != nil {
			_, _ = stderr.ReadFrom(res.Stderr)
		}
		close(errDone)
	}()

	exitCode, waitErr := res.Wait(runCtx)
	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut {
		_ = res.Kill(ctx)
	}
	<-done
	<-errDone
	duration := time.Since(start)

	if timedOut {
		exitCode = 137
		stderr.WriteString("\nEXECUTION TIMED OUT")
	} else if waitErr != nil {
		return Result{}, fmt.Errorf("%w: %v", errkind.ContainerRuntimeUnavailable, waitErr)
	}

	outBytes, outTrunc := outpututil.Truncate(stdout.Bytes(), outpututil.DefaultMaxOutputBytes)
	errBytes, errTrunc := outpututil.Truncate(stderr.Bytes(), outpututil.DefaultMaxOutputBytes)

	secrets := req.Secrets
	outStr := outpututil.Redact(string(outBytes), secrets)
	errStr := outpututil.Redact(string(errBytes), secrets)

	return Result{
		ExitCode:   exitCode,
		Stdout:     outStr,
		Stderr:     errStr,
		DurationMs: duration.Milliseconds(),
		Truncated:  outTrunc || errTrunc,
	}, nil
}
