package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// frameQueue is a bounded single-producer single-consumer queue. When full,
// the oldest frame is discarded to make room.
type frameQueue struct {
	ch      chan sensor.Frame
	dropped atomic.Uint64
}

func newFrameQueue(size int) *frameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &frameQueue{ch: make(chan sensor.Frame, size)}
}

func (q *frameQueue) offer(f sensor.Frame) {
	for {
		select {
		case q.ch <- f:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

func (q *frameQueue) poll() (sensor.Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return sensor.Frame{}, false
	}
}

func (q *frameQueue) drain() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// worker runs one acquisition goroutine and records why it ended.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// startWorker runs fn on its own goroutine. The worker context is detached
// from any request context so that a short Start deadline does not end it.
func startWorker(fn func(ctx context.Context) error) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
		}
	}()
	return w
}

// failure returns the error the worker exited with, if any.
func (w *worker) failure() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *worker) stop(timeout time.Duration) error {
	if w == nil {
		return nil
	}
	w.cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		return errors.New().WithData(ErrStopTimeout, timeout)
	}
}

// pollQueued is the PollFrame body shared by worker-backed variants: queued
// frames are delivered before a worker failure is reported.
func pollQueued(q *frameQueue, w *worker) (sensor.Frame, bool, error) {
	if q == nil {
		return sensor.Frame{}, false, nil
	}
	if f, ok := q.poll(); ok {
		return f, true, nil
	}
	if err := w.failure(); err != nil {
		return sensor.Frame{}, false, err
	}
	return sensor.Frame{}, false, nil
}

type quality struct {
	received atomic.Uint64
	parsed   atomic.Uint64
	failed   atomic.Uint64
}

func (q *quality) stats(queue *frameQueue) Stats {
	s := Stats{
		Received: q.received.Load(),
		Parsed:   q.parsed.Load(),
		Failed:   q.failed.Load(),
	}
	if queue != nil {
		s.Dropped = queue.dropped.Load()
	}
	return s
}
