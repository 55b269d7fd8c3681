package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsSize(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, New(0).Size())
	assert.Equal(t, DefaultConcurrency, New(-4).Size())
	assert.Equal(t, 7, New(7).Size())
}

func TestExecute_BoundsConcurrency(t *testing.T) {
	const limit = 3
	l := New(limit)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Execute(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Equal(t, 0, l.InFlight())
}

func TestExecute_ReleasesOnError(t *testing.T) {
	l := New(1)
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		err := l.Execute(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	require.NoError(t, l.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestExecute_ReleasesOnPanic(t *testing.T) {
	l := New(1)

	err := l.Execute(context.Background(), func(context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, l.Execute(ctx, func(context.Context) error { return nil }), "slot must be free after a panic")
}

func TestExecute_FIFOAdmission(t *testing.T) {
	l := New(1)
	release := make(chan struct{})

	held := make(chan struct{})
	go func() {
		_ = l.Execute(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Execute(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		require.Eventually(t, func() bool { return l.Waiting() == i+1 }, time.Second, time.Millisecond)
		// Let the goroutine reach the semaphore's wait queue.
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestExecute_ContextCancelledWhileQueued(t *testing.T) {
	l := New(1)
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.Execute(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err := l.Execute(ctx, func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
}

func TestDo_ReturnsValue(t *testing.T) {
	l := New(2)
	v, err := Do(context.Background(), l, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
