package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/isol8/isol8/internal/containerrt"
	"github.com/isol8/isol8/internal/id"
	"github.com/isol8/isol8/internal/log"
	"github.com/isol8/isol8/internal/outpututil"
	"github.com/isol8/isol8/internal/pool"
)

// ExecuteStream mirrors Execute but emits stdout/stderr chunks as they
// arrive, followed by a single exit event. The channel is closed once the
// exit event has been sent. Concatenating every stdout/stderr chunk (modulo
// truncation) equals the Stdout/Stderr an equivalent Execute call would
// return.
func (e *Engine) ExecuteStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if err := e.sem.Acquire(ctx); err != nil {
		return nil, err
	}

	execID := id.Generate("exec")
	log.SetExecID(execID)

	r, err := e.resolve(req)
	if err != nil {
		log.ClearExecID()
		e.sem.Release()
		return nil, err
	}
	key := e.poolKey(r)

	w, err := e.acquireWorker(ctx, key)
	if err != nil {
		log.ClearExecID()
		e.sem.Release()
		return nil, err
	}

	if err := e.injectFiles(ctx, w.ContainerID, r, req); err != nil {
		log.ClearExecID()
		e.releaseWorker(ctx, key, w)
		e.sem.Release()
		return nil, err
	}
	if len(req.InstallPackages) > 0 {
		if err := e.installPackages(ctx, w.ContainerID, r, req.InstallPackages); err != nil {
			log.ClearExecID()
			e.releaseWorker(ctx, key, w)
			e.sem.Release()
			return nil, err
		}
	}
	if r.network == NetworkFiltered {
		if err := ensureProxyRunning(ctx, e.rt, w.ContainerID, e.opts.ProxyPort, NetworkFilter{Whitelist: r.whitelist, Blacklist: r.blacklist}); err != nil {
			log.ClearExecID()
			e.releaseWorker(ctx, key, w)
			e.sem.Release()
			return nil, fmt.Errorf("configure network: %w", err)
		}
	}

	out := make(chan StreamEvent, 64)
	go e.streamRun(ctx, out, w, key, r, req)
	return out, nil
}

func (e *Engine) streamRun(ctx context.Context, out chan<- StreamEvent, w *pool.Worker, key pool.Key, r resolved, req Request) {
	defer close(out)
	defer e.sem.Release()
	defer e.releaseWorker(context.Background(), key, w)
	defer log.ClearExecID()

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

	res, err := e.rt.Exec(ctx, w.ContainerID, containerrt.ExecConfig{
		Cmd: argv, Env: env, User: "sandbox", WorkingDir: "/sandbox",
		AttachStdin: len(req.Stdin) > 0,
	})
	if err != nil {
		out <- StreamEvent{Type: StreamExit, ExitCode: -1}
		return
	}
	if res.Stdin != nil {
		if len(req.Stdin) > 0 {
			_, _ = res.Stdin.Write(req.Stdin)
		}
		_ = res.Stdin.Close()
	}

	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})
	go pipeChunks(res.Stdout, StreamStdout, out, stdoutDone, req.Secrets)
	go pipeChunks(res.Stderr, StreamStderr, out, stderrDone, req.Secrets)

	exitCode, waitErr := res.Wait(runCtx)
	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut {
		_ = res.Kill(ctx)
	}
	<-stdoutDone
	<-stderrDone

	if timedOut {
		exitCode = 137
		out <- StreamEvent{Type: StreamStderr, Data: []byte("\nEXECUTION TIMED OUT")}
	} else if waitErr != nil {
		exitCode = -1
	}
	out <- StreamEvent{Type: StreamExit, ExitCode: exitCode}
}

// pipeChunks streams r to out as StreamEvents, redacting req.secrets (C2) out
// of every chunk before it is sent, mirroring run()'s Redact call on the
// accumulated stdout/stderr. A secret's bytes can straddle two underlying
// Reads, so pipeChunks never emits the trailing maxSecretLen-1 bytes of what
// it has buffered until either more data arrives to redact across that
// boundary or the stream ends.
func pipeChunks(r io.Reader, typ StreamEventType, out chan<- StreamEvent, done chan<- struct{}, secrets map[string]string) {
	defer close(done)
	if r == nil {
		return
	}

	maxSecretLen := 0
	for _, v := range secrets {
		if len(v) > maxSecretLen {
			maxSecretLen = len(v)
		}
	}
	carry := maxSecretLen - 1
	if carry < 0 {
		carry = 0
	}

	var pending []byte
	flush := func(final bool) {
		if len(pending) == 0 {
			return
		}
		// Redact the whole buffer first: a secret that straddles the
		// emit/carry boundary is then already replaced, and only an
		// unfinished secret prefix (at most carry bytes) can remain at the end.
		redacted := []byte(outpututil.Redact(string(pending), secrets))
		var emit []byte
		if final {
			emit = redacted
			pending = nil
		} else {
			if len(redacted) <= carry {
				pending = redacted
				return
			}
			emit = redacted[:len(redacted)-carry]
			pending = redacted[len(redacted)-carry:]
		}
		if len(emit) == 0 {
			return
		}
		out <- StreamEvent{Type: typ, Data: emit}
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			flush(false)
		}
		if err != nil {
			flush(true)
			return
		}
	}
}
