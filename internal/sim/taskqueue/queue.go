// Package taskqueue runs cooperative tasks with a fixed number of concurrent
// slots. Tasks beyond the limit wait in arrival order and are promoted as
// slots free up; Submit never blocks the caller.
package taskqueue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("taskqueue: closed")
	ErrNilTask   = errors.New("taskqueue: nil task")
	ErrTaskPanic = errors.New("taskqueue: task panicked")
)

// DefaultMaxConcurrent caps outstanding generation work when recursive tasks
// fan out.
const DefaultMaxConcurrent = 1000

// Task is a unit of work. It may call Yield between steps and may Submit
// further tasks to the queue that runs it.
type Task func(ctx context.Context) error

type Config struct {
	MaxConcurrent int
}

func DefaultConfig() Config {
	return Config{MaxConcurrent: DefaultMaxConcurrent}
}

type Stats struct {
	Active    int    `json:"active"`
	Waiting   int    `json:"waiting"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	// Dropped counts waiting tasks discarded by Close.
	Dropped   uint64 `json:"dropped"`
}

type entry struct {
	task   Task
	onDrop func()
}

type Queue struct {
	max     int
	log     *zap.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	active  int
	waiting list.List // of entry
	closed  bool
	// idle is closed whenever nothing is active or waiting.
	idle chan struct{}

	submitted uint64
	completed uint64
	failed    uint64
	dropped   uint64
}

func New(cfg Config, logger *zap.Logger, metrics *Metrics) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		max:     cfg.MaxConcurrent,
		log:     logger.With(zap.String("component", "taskqueue")),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		idle:    idle,
	}
}

// MaxConcurrent reports the configured slot count.
func (q *Queue) MaxConcurrent() int { return q.max }

// Submit accepts a task for eventual execution. It returns immediately.
func (q *Queue) Submit(task Task) error {
	return q.SubmitWithDrop(task, nil)
}

// SubmitWithDrop is Submit with a hook that runs instead of the task if Close
// discards it while it is still waiting. onDrop may be nil.
func (q *Queue) SubmitWithDrop(task Task, onDrop func()) error {
	if task == nil {
		return ErrNilTask
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.active == 0 && q.waiting.Len() == 0 {
		q.idle = make(chan struct{})
	}
	q.submitted++
	start := q.active < q.max
	if start {
		q.active++
	} else {
		q.waiting.PushBack(entry{task: task, onDrop: onDrop})
	}
	q.metrics.submit(q.active, q.waiting.Len())
	q.mu.Unlock()

	if start {
		go q.run(task)
	}
	return nil
}

// run executes task and then keeps the slot, handing it to the head of the
// waiting list until the list is empty.
func (q *Queue) run(task Task) {
	for task != nil {
		err := q.invoke(task)

		q.mu.Lock()
		if err != nil {
			q.failed++
		} else {
			q.completed++
		}
		task = nil
		if !q.closed {
			if front := q.waiting.Front(); front != nil {
				task = q.waiting.Remove(front).(entry).task
			}
		}
		if task == nil {
			q.active--
		}
		q.metrics.finish(err != nil, q.active, q.waiting.Len())
		if task == nil {
			q.signalIdleLocked()
		}
		q.mu.Unlock()
	}
}

func (q *Queue) invoke(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			q.log.Debug("task canceled", zap.Error(err))
			return
		}
		q.log.Warn("task failed", zap.Error(err))
	}()
	return task(q.ctx)
}

func (q *Queue) signalIdleLocked() {
	if q.active != 0 || q.waiting.Len() != 0 {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Active:    q.active,
		Waiting:   q.waiting.Len(),
		Submitted: q.submitted,
		Completed: q.completed,
		Failed:    q.failed,
		Dropped:   q.dropped,
	}
}

// Wait blocks until no task is active or waiting.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, drops the waiting ones (running their drop
// hooks), cancels the context seen by running tasks and waits for them to
// return.
func (q *Queue) Close(ctx context.Context) error {
	var dropped []entry
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for e := q.waiting.Front(); e != nil; e = e.Next() {
			dropped = append(dropped, e.Value.(entry))
		}
		q.waiting.Init()
		q.dropped += uint64(len(dropped))
		q.metrics.drop(len(dropped), q.active)
		q.signalIdleLocked()
	}
	q.mu.Unlock()

	if len(dropped) > 0 {
		q.log.Info("dropping waiting tasks", zap.Int("count", len(dropped)))
	}
	for _, e := range dropped {
		if e.onDrop != nil {
			e.onDrop()
		}
	}
	q.cancel()
	return q.Wait(ctx)
}

// Yield is a cooperative suspension point. The calling task keeps its slot.
// It reports ctx.Err() so long-running tasks stop once the queue closes.
func Yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}
