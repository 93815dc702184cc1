package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned for jobs submitted to, or still waiting in, a
// closed queue.
var ErrQueueClosed = errors.New("resource queue is closed")

// Stats is a point-in-time view of a queue.
type Stats struct {
	Name          string        `json:"name"`
	Active        int           `json:"active"`
	Pending       int           `json:"pending"`
	MaxConcurrent int           `json:"max_concurrent"`
	MinDelay      time.Duration `json:"min_delay"`
}

// request is one job waiting for, or holding, a slot.
type request struct {
	enqueued time.Time
	result   chan error

	// admitted is only touched by the owning goroutine.
	admitted bool
}

// Queue bounds how many jobs use a resource at once and how quickly they are
// admitted. The zero value is not usable; create queues with New.
type Queue struct {
	name          string
	maxConcurrent func() int
	minDelay      func() time.Duration
	logger        *slog.Logger
	metrics       queueMetrics

	submit   chan *request
	release  chan *request
	withdraw chan *request
	stats    chan chan Stats
	poke     chan struct{}

	closing   chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

// New starts a queue. maxConcurrent returns the capacity, where zero means
// unbounded; minDelay returns the minimum time between two admissions. Both
// are called whenever the queue evaluates its pending jobs, and must be safe
// to call from another goroutine.
//
// New panics if either accessor is nil.
func New(name string, maxConcurrent func() int, minDelay func() time.Duration, logger *slog.Logger) *Queue {
	if maxConcurrent == nil {
		panic(fmt.Sprintf("queue %q: maxConcurrent accessor is required", name))
	}
	if minDelay == nil {
		panic(fmt.Sprintf("queue %q: minDelay accessor is required", name))
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		name:          name,
		maxConcurrent: maxConcurrent,
		minDelay:      minDelay,
		logger:        logger.With("component", "resource_queue", "queue", name),
		metrics:       newQueueMetrics(name),
		submit:        make(chan *request),
		release:       make(chan *request),
		withdraw:      make(chan *request),
		stats:         make(chan chan Stats),
		poke:          make(chan struct{}, 1),
		closing:       make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go q.run()
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Add waits for a slot, runs job in it and returns the job's error.
//
// If ctx is done before the job is admitted the request is withdrawn and
// ctx.Err() is returned; the job never runs. A job that has started always
// runs to completion and its slot is released when it returns, even if it
// panics.
func (q *Queue) Add(ctx context.Context, job func(ctx context.Context) error) error {
	select {
	case <-q.closing:
		return ErrQueueClosed
	default:
	}

	req := &request{enqueued: time.Now(), result: make(chan error, 1)}

	select {
	case q.submit <- req:
	case <-q.stopped:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		q.send(q.withdraw, req)
		return ctx.Err()
	}

	defer q.send(q.release, req)
	return job(ctx)
}

// Do is Add for jobs that produce a value.
func Do[R any](ctx context.Context, q *Queue, job func(ctx context.Context) (R, error)) (R, error) {
	var value R
	err := q.Add(ctx, func(ctx context.Context) error {
		var err error
		value, err = job(ctx)
		return err
	})
	return value, err
}

// Stats returns the current queue state. A stopped queue reports zero
// activity.
func (q *Queue) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case q.stats <- reply:
		return <-reply
	case <-q.stopped:
		return Stats{Name: q.name, MaxConcurrent: q.maxConcurrent(), MinDelay: q.minDelay()}
	}
}

// Poke asks the queue to re-read its limits and admit whatever they now
// allow. Call it after raising a limit.
func (q *Queue) Poke() {
	select {
	case q.poke <- struct{}{}:
	default:
	}
}

// Close stops admitting jobs. Waiting jobs fail with ErrQueueClosed; running
// jobs finish normally. Close does not wait; use Done for that.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closing)
	})
}

// Done is closed once the queue is closed and its last running job has
// returned.
func (q *Queue) Done() <-chan struct{} {
	return q.stopped
}

func (q *Queue) send(ch chan *request, req *request) {
	select {
	case ch <- req:
	case <-q.stopped:
	}
}

// run owns all queue state. It is the only goroutine that reads or writes
// the pending list, the active count and the last admission time.
func (q *Queue) run() {
	defer close(q.stopped)

	var (
		pending []*request
		active  int
		last    time.Time
		closed  bool
		closing = q.closing
		timer   = time.NewTimer(time.Hour)
	)
	timer.Stop()
	defer timer.Stop()

	for {
		if closed && active == 0 {
			q.logger.Info("resource queue stopped")
			return
		}

		wait := q.admit(&pending, &active, &last)
		q.metrics.active.Set(float64(active))
		q.metrics.pending.Set(float64(len(pending)))

		var timerC <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case req := <-q.submit:
			if closed {
				req.result <- ErrQueueClosed
				continue
			}
			pending = append(pending, req)

		case <-q.release:
			active--

		case req := <-q.withdraw:
			if i := indexOf(pending, req); i >= 0 {
				pending = append(pending[:i], pending[i+1:]...)
				q.metrics.withdrawn.Inc()
			} else if req.admitted {
				active--
			}

		case reply := <-q.stats:
			reply <- Stats{
				Name:          q.name,
				Active:        active,
				Pending:       len(pending),
				MaxConcurrent: q.maxConcurrent(),
				MinDelay:      q.minDelay(),
			}

		case <-q.poke:
		case <-timerC:

		case <-closing:
			closing = nil
			closed = true
			for _, req := range pending {
				req.result <- ErrQueueClosed
			}
			q.logger.Info("resource queue closed", "rejected", len(pending), "active", active)
			pending = nil
		}

		timer.Stop()
	}
}

// admit admits pending requests in FIFO order while both a slot is free and
// the minimum delay has elapsed. When the head of the queue is held back only
// by the delay it returns how long remains, so the caller can wake up then.
func (q *Queue) admit(pending *[]*request, active *int, last *time.Time) time.Duration {
	for len(*pending) > 0 {
		if limit := q.maxConcurrent(); limit > 0 && *active >= limit {
			return 0
		}
		now := time.Now()
		if !last.IsZero() {
			if remaining := q.minDelay() - now.Sub(*last); remaining > 0 {
				return remaining
			}
		}

		req := (*pending)[0]
		*pending = (*pending)[1:]
		*active++
		*last = now
		req.admitted = true
		req.result <- nil

		waited := now.Sub(req.enqueued)
		q.metrics.admitted.Inc()
		q.metrics.wait.Observe(waited.Seconds())
		q.logger.Debug("job admitted", "active", *active, "pending", len(*pending), "waited", waited)
	}
	return 0
}

func indexOf(pending []*request, req *request) int {
	for i, r := range pending {
		if r == req {
			return i
		}
	}
	return -1
}
