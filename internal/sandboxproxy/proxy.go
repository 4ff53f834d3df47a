// Package sandboxproxy implements the in-container filtering HTTP/HTTPS
// proxy (C6): a regex allow/deny host policy, plain HTTP forwarding, and
// CONNECT tunnel splicing for HTTPS, with an append-only decision log the
// engine reads back at finalization.
package sandboxproxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/isol8/isol8/internal/log"
)

// Proxy is a filtering forward/CONNECT proxy. The zero value is not usable;
// construct with New.
type Proxy struct {
	mu        sync.RWMutex
	whitelist []*regexp.Regexp
	blacklist []*regexp.Regexp

	log *Log

	server *http.Server
}

// New constructs a Proxy with the given initial policy. Policy can be
// updated after construction with SetPolicy.
func New(whitelist, blacklist []*regexp.Regexp) *Proxy {
	return &Proxy{
		whitelist: whitelist,
		blacklist: blacklist,
		log:       NewLog(),
	}
}

// SetPolicy atomically replaces the whitelist/blacklist.
func (p *Proxy) SetPolicy(whitelist, blacklist []*regexp.Regexp) {
	p.mu.Lock()
	p.whitelist = whitelist
	p.blacklist = blacklist
	p.mu.Unlock()
}

// Log returns the proxy's decision log, for the engine to Drain at
// finalization.
func (p *Proxy) Log() *Log {
	return p.log
}

func (p *Proxy) decide(host string) Action {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Decide(p.whitelist, p.blacklist, host)
}

// ListenAndServe starts the proxy on addr (typically 127.0.0.1:<port>) and
// blocks until ctx is done or the server errors.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	p.server = &http.Server{Addr: addr, Handler: p}

	errCh := make(chan error, 1)
	go func() { errCh <- p.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleHTTP(w, r)
}

func (p *Proxy) writeBlocked(w http.ResponseWriter, host string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("isol8: host \"" + host + "\" is not permitted by network policy\n"))
}

func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	host := r.URL.Hostname()
	port := 80
	if r.URL.Scheme == "https" {
		port = 443
	}
	if r.URL.Port() != "" {
		if n, err := net.LookupPort("tcp", r.URL.Port()); err == nil {
			port = n
		}
	}

	action := p.decide(host)
	if action == Block {
		p.log.Append(Entry{Host: host, Port: port, Method: r.Method, Path: r.URL.Path, Action: Block, At: start})
		p.writeBlocked(w, host)
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	for key, values := range r.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	outReq.Header.Del("Proxy-Connection")

	resp, err := http.DefaultTransport.RoundTrip(outReq)
	duration := time.Since(start)
	if err != nil {
		log.Warn("sandboxproxy: upstream request failed", "host", host, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	p.log.Append(Entry{
		Host: host, Port: port, Method: r.Method, Path: r.URL.Path,
		Action: Allow, StatusCode: resp.StatusCode, DurationMs: duration.Milliseconds(), At: start,
	})

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, "invalid CONNECT target", http.StatusBadRequest)
		return
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	action := p.decide(host)
	if action == Block {
		p.log.Append(Entry{Host: host, Port: port, Action: Block, At: start})
		p.writeBlocked(w, host)
		return
	}

	targetConn, err := net.Dial("tcp", r.Host)
	if err != nil {
		p.log.Append(Entry{Host: host, Port: port, Action: Allow, At: start})
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		targetConn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		targetConn.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	p.log.Append(Entry{Host: host, Port: port, Action: Allow, DurationMs: time.Since(start).Milliseconds(), At: start})
	_, _ = clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	var closeOnce sync.Once
	closeConns := func() {
		closeOnce.Do(func() {
			clientConn.Close()
			targetConn.Close()
		})
	}
	go func() {
		_, _ = io.Copy(targetConn, clientConn)
		closeConns()
	}()
	go func() {
		_, _ = io.Copy(clientConn, targetConn)
		closeConns()
	}()
}
