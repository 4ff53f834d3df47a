// Package pool implements the container pool (C5): a keyed cache of idle
// workers with fast (clean/dirty) and secure (single, synchronous cleanup)
// acquire strategies, release-overflow, drain, and liveness checking.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isol8/isol8/internal/errkind"
	"github.com/isol8/isol8/internal/log"
)

// Strategy selects the pool's acquire/release behavior.
type Strategy string

const (
	StrategyFast   Strategy = "fast"
	StrategySecure Strategy = "secure"
)

// WorkerState is a PooledWorker's lifecycle state.
type WorkerState int

const (
	StateIdle WorkerState = iota
	StateInUse
	StateDraining
	StateDead
)

// Key identifies one pool bucket.
type Key struct {
	Image       string
	NetworkMode string
	Security    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Image, k.NetworkMode, k.Security)
}

// Worker is a PooledWorker entity.
type Worker struct {
	ContainerID string
	Key         Key
	CreatedAtMs int64

	mu    sync.Mutex
	state WorkerState
}

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Factory creates, destroys, cleans, and health-checks workers. The pool
// never talks to the container runtime directly; it delegates through this
// interface so it stays runtime-agnostic.
type Factory interface {
	Create(ctx context.Context, key Key) (*Worker, error)
	Destroy(ctx context.Context, w *Worker)
	// Cleanup runs the cleanup protocol (kill non-init processes, clear
	// /sandbox, reset cwd/env) on w. Unconfined-security workers skip this
	// (the factory implementation should no-op for those).
	Cleanup(ctx context.Context, w *Worker) error
	// Alive reports whether w's container is still Running.
	Alive(ctx context.Context, w *Worker) bool
}

// Sizes bounds a pool bucket. For StrategyFast, Clean bounds the clean
// sub-pool and Dirty bounds the dirty sub-pool; for StrategySecure only
// Clean is used as the single pool's size.
type Sizes struct {
	Clean int
	Dirty int
}

// Pool is a keyed cache of idle workers.
type Pool struct {
	factory  Factory
	strategy Strategy
	sizes    Sizes

	mu      sync.RWMutex // guards buckets map
	buckets map[Key]*bucket

	stopped   chan struct{}
	stopOnce  sync.Once
	promoteWG sync.WaitGroup
}

type bucket struct {
	mu          sync.Mutex // serializes acquire/release/drain for this key
	clean       chan *Worker
	dirty       chan *Worker // fast strategy only; secure uses clean as the single pool
	outstanding int
	promoteStop chan struct{}
}

// New creates a Pool. sizes.Clean <= 0 means "unbounded" in practice (a large
// buffered channel); sizes.Dirty is only meaningful for StrategyFast.
func New(factory Factory, strategy Strategy, sizes Sizes) *Pool {
	if sizes.Clean <= 0 {
		sizes.Clean = 64
	}
	if sizes.Dirty <= 0 {
		sizes.Dirty = 64
	}
	return &Pool{
		factory:  factory,
		strategy: strategy,
		sizes:    sizes,
		buckets:  make(map[Key]*bucket),
		stopped:  make(chan struct{}),
	}
}

func (p *Pool) bucketFor(key Key) *bucket {
	p.mu.RLock()
	b, ok := p.buckets[key]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[key]; ok {
		return b
	}
	b = &bucket{
		clean:       make(chan *Worker, p.sizes.Clean),
		dirty:       make(chan *Worker, p.sizes.Dirty),
		promoteStop: make(chan struct{}),
	}
	p.buckets[key] = b
	if p.strategy == StrategyFast {
		p.promoteWG.Add(1)
		go p.promoteLoop(key, b)
	}
	return b
}

// Acquire returns an idle worker for key, creating one if none is available.
// Callers must Release (or let the worker be destroyed) exactly once.
func (p *Pool) Acquire(ctx context.Context, key Key) (w *Worker, coldStart bool, err error) {
	select {
	case <-p.stopped:
		return nil, false, errkind.EngineStopped
	default:
	}

	b := p.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		select {
		case <-p.stopped:
			return nil, false, errkind.EngineStopped
		default:
		}

		var candidate *Worker
		var needsCleanup bool

		select {
		case candidate = <-b.clean:
		default:
			if p.strategy == StrategyFast {
				select {
				case candidate = <-b.dirty:
					needsCleanup = true
				default:
				}
			}
		}

		if candidate == nil {
			w, err = p.factory.Create(ctx, key)
			if err != nil {
				return nil, false, fmt.Errorf("%w: %v", errkind.ContainerRuntimeUnavailable, err)
			}
			w.setState(StateInUse)
			b.outstanding++
			return w, true, nil
		}

		if !p.factory.Alive(ctx, candidate) {
			p.factory.Destroy(ctx, candidate)
			continue
		}

		if p.strategy == StrategySecure || needsCleanup {
			if err := p.factory.Cleanup(ctx, candidate); err != nil {
				log.Warn("pool: cleanup failed, destroying worker", "error", err, "container_id", candidate.ContainerID)
				p.factory.Destroy(ctx, candidate)
				continue
			}
		}

		candidate.setState(StateInUse)
		b.outstanding++
		return candidate, false, nil
	}
}

// Release returns w to key's pool (fast: dirty sub-pool; secure: idle pool),
// destroying it on release-overflow. Release never returns an error to the
// caller's critical path; failures are logged and the worker is destroyed.
func (p *Pool) Release(ctx context.Context, key Key, w *Worker) {
	b := p.bucketFor(key)
	b.mu.Lock()
	b.outstanding--
	b.mu.Unlock()

	if w.State() == StateDead {
		return
	}
	w.setState(StateIdle)

	target := b.clean
	if p.strategy == StrategyFast {
		target = b.dirty
	}

	select {
	case <-p.stopped:
		p.factory.Destroy(ctx, w)
		return
	default:
	}

	select {
	case target <- w:
	default:
		// release-overflow: the pool is full, force-remove the extra worker.
		p.factory.Destroy(ctx, w)
	}
}

// promoteLoop lazily drains dirty -> clean for one key, bounded by the
// clean sub-pool's capacity, until the pool is stopped or the bucket is torn
// down by Drain.
func (p *Pool) promoteLoop(key Key, b *bucket) {
	defer p.promoteWG.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopped:
			return
		case <-b.promoteStop:
			return
		case <-ticker.C:
			select {
			case w := <-b.dirty:
				if err := p.factory.Cleanup(context.Background(), w); err != nil {
					p.factory.Destroy(context.Background(), w)
					continue
				}
				select {
				case b.clean <- w:
				default:
					p.factory.Destroy(context.Background(), w)
				}
			default:
			}
		}
	}
}

// Drain destroys every idle worker across all keys and marks the pool
// stopped: new Acquire calls, including ones already blocked, fail with
// EngineStopped. In-flight (outstanding) workers are awaited up to grace;
// after grace elapses this returns without waiting further (callers that
// still hold a worker are responsible for releasing or the engine's own
// cancellation path destroys it directly).
func (p *Pool) Drain(ctx context.Context, grace time.Duration) {
	p.stopOnce.Do(func() { close(p.stopped) })

	p.mu.RLock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.RUnlock()

	for _, b := range buckets {
		close(b.promoteStop)
	}
	p.promoteWG.Wait()

	deadline := time.Now().Add(grace)
	for _, b := range buckets {
		for time.Now().Before(deadline) {
			b.mu.Lock()
			out := b.outstanding
			b.mu.Unlock()
			if out == 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		drainChan(ctx, p.factory, b.clean)
		drainChan(ctx, p.factory, b.dirty)
	}
}

func drainChan(ctx context.Context, f Factory, ch chan *Worker) {
	for {
		select {
		case w := <-ch:
			w.setState(StateDraining)
			f.Destroy(ctx, w)
		default:
			return
		}
	}
}
