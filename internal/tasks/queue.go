// ABOUTME: Background queue for best-effort follow-up work
// ABOUTME: Tasks run on one worker with exponential retry; duplicates coalesce while pending

package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/clawhuddle/internal/dedupe"
)

// ErrClosed is returned when enqueueing on a closed queue.
var ErrClosed = errors.New("task queue closed")

// ErrFull is returned when the queue buffer is full.
var ErrFull = errors.New("task queue full")

var taskResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clawhuddle_tasks_total",
		Help: "Follow-up tasks by kind and final result",
	},
	[]string{"kind", "result"},
)

func init() {
	prometheus.MustRegister(taskResults)
}

// Task is a unit of follow-up work. Tasks with the same Key coalesce while
// one is waiting to run.
type Task struct {
	ID   string
	Kind string
	Key  string
	Run  func(ctx context.Context) error
}

// Redeploy builds the follow-up that recreates a member's gateway after its
// configuration changed.
func Redeploy(orgID, memberID string, run func(ctx context.Context) error) Task {
	return Task{
		Kind: "redeploy",
		Key:  "redeploy:" + orgID + "/" + memberID,
		Run:  run,
	}
}

// Options configure a Queue.
type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	DedupeWindow    time.Duration
	Buffer          int
	// Permanent reports errors that retrying cannot fix.
	Permanent func(error) bool
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 2 * time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = 10 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
}

// Queue runs tasks in order on a single worker goroutine.
type Queue struct {
	opts    Options
	pending *dedupe.Window
	tasks   chan Task
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a Queue and starts its worker.
func NewQueue(opts Options, logger *slog.Logger) *Queue {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:    opts,
		pending: dedupe.New(opts.DedupeWindow, 4*opts.Buffer, 0),
		tasks:   make(chan Task, opts.Buffer),
		logger:  logger.With("component", "tasks"),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(1)
	go q.work()
	return q
}

// Enqueue schedules t. It returns false with a nil error when an identical
// task is already waiting.
func (q *Queue) Enqueue(t Task) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Key != "" && !q.pending.Claim(t.Key) {
		q.logger.Debug("task coalesced", "kind", t.Kind, "key", t.Key)
		return false, nil
	}

	select {
	case q.tasks <- t:
		q.logger.Debug("task enqueued", "id", t.ID, "kind", t.Kind, "key", t.Key)
		return true, nil
	default:
		if t.Key != "" {
			q.pending.Release(t.Key)
		}
		return false, ErrFull
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		// Release before running so a change made while this task runs
		// schedules another pass.
		if t.Key != "" {
			q.pending.Release(t.Key)
		}
		q.run(t)
	}
}

func (q *Queue) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.InitialInterval
	b.MaxInterval = q.opts.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.opts.MaxAttempts-1)), q.ctx)
}

func (q *Queue) run(t Task) {
	logger := q.logger.With("id", t.ID, "kind", t.Kind, "key", t.Key)
	attempt := 0

	op := func() error {
		attempt++
		err := t.Run(q.ctx)
		if err != nil && q.opts.Permanent != nil && q.opts.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("task failed, retrying", "attempt", attempt, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, q.policy(), notify); err != nil {
		taskResults.WithLabelValues(t.Kind, "failed").Inc()
		logger.Warn("task abandoned", "attempts", attempt, "error", err)
		return
	}
	taskResults.WithLabelValues(t.Kind, "ok").Inc()
	logger.Info("task completed", "attempts", attempt)
}

// Close stops accepting tasks, cancels retries in progress, and waits for
// the worker to drain. Tasks still queued run once with a cancelled context.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.pending.Close()
}
