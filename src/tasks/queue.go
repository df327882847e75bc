package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Task is one unit of outbound work: an HTTP call or a gateway command.
// The context is cancelled only when the queue shuts down.
type Task[T any] func(ctx context.Context) (T, error)

type Options struct {
	// Workers is the number of goroutines executing tasks. Defaults to 1.
	Workers int
	Logger  *slog.Logger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// job is the type-erased side of a Future that the workers see.
type job interface {
	id() string
	name() string
	execute(ctx context.Context, tracer trace.Tracer)
	abandon(err error)
}

// Queue runs submitted tasks FIFO on a fixed set of workers. Delayed tasks
// join the FIFO when their timer fires.
type Queue struct {
	workers int
	logger  *slog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	cond    *sync.Cond
	pending []job
	timers  map[*time.Timer]job
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workers: opts.Workers,
		logger:  opts.Logger.With("component", "tasks"),
		tracer:  opts.TracerProvider.Tracer("tasks/queue"),
		timers:  make(map[*time.Timer]job),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers. Tasks submitted before Start wait in the queue.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	q.logger.Debug("starting workers", "workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}
}

// Close stops accepting work, fails everything not yet started with
// ErrQueueClosed and waits for running tasks to return.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	abandoned := q.pending
	for timer, j := range q.timers {
		if timer.Stop() {
			abandoned = append(abandoned, j)
		}
	}
	q.timers = nil
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, j := range abandoned {
		j.abandon(ErrQueueClosed)
	}

	q.cancel()
	q.wg.Wait()
	q.logger.Debug("queue closed", "abandoned", len(abandoned))
}

// Len reports how many tasks are waiting for a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Submit queues task and returns its pending future without blocking.
func Submit[T any](q *Queue, name string, task Task[T]) *Future[T] {
	e := newEntry(name, task, q.logger)
	q.enqueue(e)
	return e.future
}

// SubmitAfter makes task eligible for a worker once delay has passed. The
// caller is never blocked.
func SubmitAfter[T any](q *Queue, name string, task Task[T], delay time.Duration) *Future[T] {
	e := newEntry(name, task, q.logger)
	if delay <= 0 {
		q.enqueue(e)
		return e.future
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		e.abandon(ErrQueueClosed)
		return e.future
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.timers != nil {
			delete(q.timers, timer)
		}
		q.mu.Unlock()
		q.enqueue(e)
	})
	q.timers[timer] = e
	q.mu.Unlock()
	return e.future
}

func (q *Queue) enqueue(j job) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.abandon(ErrQueueClosed)
		return
	}
	q.pending = append(q.pending, j)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *Queue) next() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return j, true
}

func (q *Queue) work(worker int) {
	defer q.wg.Done()
	for {
		j, ok := q.next()
		if !ok {
			return
		}
		q.logger.Debug("running task", "worker", worker, "task", j.name(), "id", j.id())
		j.execute(q.ctx, q.tracer)
	}
}

type entry[T any] struct {
	task   Task[T]
	future *Future[T]
}

func newEntry[T any](name string, task Task[T], logger *slog.Logger) *entry[T] {
	future := newFuture[T](uuid.NewString(), name)
	future.logger = logger
	return &entry[T]{
		task:   task,
		future: future,
	}
}

func (e *entry[T]) id() string   { return e.future.id }
func (e *entry[T]) name() string { return e.future.name }

func (e *entry[T]) abandon(err error) {
	if e.future.start() {
		var zero T
		_ = e.future.complete(zero, err)
	}
}

func (e *entry[T]) execute(ctx context.Context, tracer trace.Tracer) {
	if !e.future.start() {
		return
	}

	ctx, span := tracer.Start(ctx, "tasks.Execute", trace.WithAttributes(
		attribute.String("task.id", e.id()),
		attribute.String("task.name", e.name()),
	))
	defer span.End()

	value, err := e.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = &TaskError{ID: e.id(), Name: e.name(), Err: err}
	}
	_ = e.future.complete(value, err)
}

// run keeps a panicking task from taking its worker down with it.
func (e *entry[T]) run(ctx context.Context) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.task(ctx)
}
