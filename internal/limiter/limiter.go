// Package limiter bounds the number of tasks running at once.
//
// Admission is FIFO: tasks queued behind a full limiter start in the order
// they called Execute. A slot is released exactly once per admitted task,
// whether the task returns, fails, or panics.
package limiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is used when New is given n < 1.
const DefaultConcurrency = 3

// Task is a unit of work run under the limiter.
type Task func(ctx context.Context) error

// Limiter admits at most N concurrent tasks.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New returns a limiter admitting n concurrent tasks.
func New(n int) *Limiter {
	if n < 1 {
		n = DefaultConcurrency
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Size returns the configured maximum concurrency.
func (l *Limiter) Size() int {
	return l.size
}

// InFlight returns the number of tasks currently running.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Waiting returns the number of callers queued for a slot.
func (l *Limiter) Waiting() int {
	return int(l.waiting.Load())
}

// Execute blocks until a slot is free, then runs task on the calling
// goroutine. It returns ctx.Err() if ctx ends while still queued. A panic in
// task is returned as an error.
func (l *Limiter) Execute(ctx context.Context, task Task) (err error) {
	l.waiting.Add(1)
	acquireErr := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if acquireErr != nil {
		return acquireErr
	}

	l.inFlight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		l.inFlight.Add(-1)
		l.sem.Release(1)
	}()

	return task(ctx)
}

// Do runs fn under l and returns its value.
func Do[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}
