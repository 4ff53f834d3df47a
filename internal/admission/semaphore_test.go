package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseBounds(t *testing.T) {
	sem := New(2)
	require.NoError(t, sem.Acquire(context.Background()))
	require.NoError(t, sem.Acquire(context.Background()))
	require.False(t, sem.TryAcquire())
	sem.Release()
	require.True(t, sem.TryAcquire())
}

func TestAcquireCancelReleasesNoSlot(t *testing.T) {
	sem := New(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sem.Acquire(ctx)
	require.Error(t, err)

	sem.Release()
	require.True(t, sem.TryAcquire())
}

func TestZeroIsUnbounded(t *testing.T) {
	sem := New(0)
	for i := 0; i < 100; i++ {
		require.True(t, sem.TryAcquire())
	}
	require.NoError(t, sem.Acquire(context.Background()))
	sem.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sem.Acquire(ctx))
}

func TestNeverExceedsMaxConcurrent(t *testing.T) {
	const max = 3
	sem := New(max)
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sem.Acquire(context.Background()))
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			sem.Release()
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, int(maxSeen), max)
}
