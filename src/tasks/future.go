package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	ErrCancelled        = errors.New("tasks: future cancelled")
	ErrTimeout          = errors.New("tasks: timed out waiting for future")
	ErrAlreadyCompleted = errors.New("tasks: future already completed")
	ErrListenerSet      = errors.New("tasks: future already has a listener")
	ErrQueueClosed      = errors.New("tasks: queue closed")
)

// TaskError carries the failure of a task into its future.
type TaskError struct {
	ID   string
	Name string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %v", e.Name, e.ID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

type State int

const (
	StatePending State = iota
	StateRunning
	StateCancelled
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s == StateCancelled || s == StateSucceeded || s == StateFailed
}

// Future is the observable result of one submitted Task. It settles exactly
// once. The listener, if any, always runs before waiters are released, so a
// listener may rely on no Await having returned yet.
type Future[T any] struct {
	id     string
	name   string
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	value       T
	err         error
	listener    func(T, error)
	hasListener bool
	released    bool
	done        chan struct{}
}

func newFuture[T any](id, name string) *Future[T] {
	return &Future[T]{
		id:     id,
		name:   name,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
}

func (f *Future[T]) ID() string { return f.id }

func (f *Future[T]) Name() string { return f.name }

func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done is closed once the future is settled and its listener has returned.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel moves a pending future to cancelled. It returns false once a worker
// has started the task or the future has settled; running work is not
// interrupted.
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	if f.state != StatePending {
		f.mu.Unlock()
		return false
	}
	f.state = StateCancelled
	f.err = ErrCancelled
	f.settleLocked()
	return true
}

// OnComplete attaches the single result listener. If the future has already
// settled the listener runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(listener func(T, error)) error {
	f.mu.Lock()
	if f.hasListener {
		f.mu.Unlock()
		return ErrListenerSet
	}
	f.hasListener = true
	if f.state.terminal() {
		value, err := f.value, f.err
		f.mu.Unlock()
		f.notify(listener, value, err)
		return nil
	}
	f.listener = listener
	f.mu.Unlock()
	return nil
}

// Await blocks until the future is settled or ctx ends. A cancelled future
// yields ErrCancelled, a failed task a *TaskError.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	for {
		f.mu.Lock()
		if f.released {
			value, err := f.value, f.err
			f.mu.Unlock()
			return value, err
		}
		f.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			var zero T
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			return zero, ctx.Err()
		}
	}
}

// AwaitTimeout is Await bounded by d. Expiry yields ErrTimeout.
func (f *Future[T]) AwaitTimeout(d time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Await(ctx)
}

// start claims the future for execution. It fails if the future was
// cancelled while queued.
func (f *Future[T]) start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		return false
	}
	f.state = StateRunning
	return true
}

// complete stores the task's result. Results arriving for a cancelled future
// are discarded.
func (f *Future[T]) complete(value T, err error) error {
	f.mu.Lock()
	switch f.state {
	case StateCancelled:
		f.mu.Unlock()
		return ErrCancelled
	case StateSucceeded, StateFailed:
		f.mu.Unlock()
		return ErrAlreadyCompleted
	}
	if err != nil {
		f.state = StateFailed
		f.err = err
	} else {
		f.state = StateSucceeded
		f.value = value
	}
	f.settleLocked()
	return nil
}

// settleLocked runs the listener then releases waiters. Called with f.mu
// held; returns with it released.
func (f *Future[T]) settleLocked() {
	listener := f.listener
	f.listener = nil
	value, err := f.value, f.err
	f.mu.Unlock()

	defer f.release()
	if listener != nil {
		f.notify(listener, value, err)
	}
}

func (f *Future[T]) release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
	close(f.done)
}

// notify calls listener. A panic in it is logged and stops there; the
// settled result is unaffected.
func (f *Future[T]) notify(listener func(T, error), value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("future listener panicked",
				"task", f.name,
				"id", f.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	listener(value, err)
}
