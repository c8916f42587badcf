// Package reactor runs handlers one at a time on a single goroutine.
//
// Timer and readiness sources are attached with Every and OnReady. Each
// source has its own forwarder goroutine that submits work to the loop;
// the handlers themselves never run concurrently with one another.
package reactor

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the number of jobs waiting for the loop.
const DefaultQueueSize = 64

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithSkipHook is called from a forwarder each time a periodic tick is
// dropped because the previous job for that source had not finished.
func WithSkipHook(fn func()) Option {
	return func(l *Loop) {
		l.onSkip = fn
	}
}

type job struct {
	fn       func()
	finished func()
}

// Loop is a single-goroutine executor.
type Loop struct {
	jobs   chan job
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup

	logger *slog.Logger
	onSkip func()
}

// New creates a Loop. Handlers run once Run is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		jobs: make(chan job, DefaultQueueSize),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Run executes queued handlers until ctx is cancelled or Close is called.
// It returns nil after Close and ctx.Err() after cancellation.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case j := <-l.jobs:
			l.execute(j)
		}
	}
}

// Post queues fn to run on the loop. It reports false if the loop is
// closed or the queue is full.
func (l *Loop) Post(fn func()) bool {
	return l.submit(job{fn: fn})
}

// Every runs fn on the loop each period. A tick that arrives while the
// previous fn for this source is still queued or running is skipped, so
// runs never overlap or pile up.
func (l *Loop) Every(period time.Duration, fn func()) {
	if period <= 0 {
		panic("reactor: non-positive period")
	}

	var pending atomic.Bool
	finished := func() { pending.Store(false) }

	l.spawn(func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				if !pending.CompareAndSwap(false, true) {
					if l.onSkip != nil {
						l.onSkip()
					}
					continue
				}
				if !l.submit(job{fn: fn, finished: finished}) {
					pending.Store(false)
				}
			}
		}
	})
}

// OnReady runs fn on the loop each time ready delivers a value. The next
// value is not taken until fn has returned, so a source that signals
// through a buffered channel never loses a wake-up that arrived mid-run.
// The forwarder stops when ready is closed.
func (l *Loop) OnReady(ready <-chan struct{}, fn func()) {
	l.spawn(func() {
		for {
			select {
			case <-l.done:
				return
			case _, ok := <-ready:
				if !ok {
					return
				}
			}

			ran := make(chan struct{})
			if !l.submit(job{fn: fn, finished: func() { close(ran) }}) {
				continue
			}
			select {
			case <-ran:
			case <-l.done:
				return
			}
		}
	})
}

// Close stops the loop and its forwarders. Queued handlers that have not
// started are discarded. Close may be called from inside a handler.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.done)
	})
	l.wg.Wait()
}

// Done is closed when the loop is closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) spawn(fn func()) {
	if l.closed.Load() {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

func (l *Loop) submit(j job) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.jobs <- j:
		return true
	case <-l.done:
		return false
	default:
		l.logger.Warn("reactor queue full, discarding job")
		return false
	}
}

// execute runs a handler with panic recovery.
func (l *Loop) execute(j job) {
	defer func() {
		if j.finished != nil {
			j.finished()
		}
		if r := recover(); r != nil {
			l.logger.Error("handler panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	j.fn()
}
