package picks

import (
	"context"
	"log/slog"
	"time"
)

// effect is a queued persistence call.
type effect struct {
	op      string
	backend string
	run     func(ctx context.Context) error
	done    chan struct{}
}

// effectQueue applies effects one at a time in enqueue order. Failures are
// logged and reported, never retried.
type effectQueue struct {
	ch      chan effect
	stopped chan struct{}
	timeout time.Duration
	logger  *slog.Logger
	onFail  func(backend, op string, err error)
}

func newEffectQueue(size int, timeout time.Duration, logger *slog.Logger, onFail func(backend, op string, err error)) *effectQueue {
	if size <= 0 {
		size = 64
	}
	q := &effectQueue{
		ch:      make(chan effect, size),
		stopped: make(chan struct{}),
		timeout: timeout,
		logger:  logger,
		onFail:  onFail,
	}
	go q.loop()
	return q
}

func (q *effectQueue) loop() {
	defer close(q.stopped)
	for e := range q.ch {
		if e.run != nil {
			q.apply(e)
		}
		if e.done != nil {
			close(e.done)
		}
	}
}

func (q *effectQueue) apply(e effect) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := e.run(ctx); err != nil {
		q.logger.Error("picks: persist failed",
			slog.String("backend", e.backend),
			slog.String("op", e.op),
			slog.String("error", err.Error()),
		)
		if q.onFail != nil {
			q.onFail(e.backend, e.op, err)
		}
	}
}

// push blocks when the queue is full.
func (q *effectQueue) push(e effect) {
	q.ch <- e
}

// barrier returns a channel closed once every effect queued before it has
// been applied.
func (q *effectQueue) barrier() <-chan struct{} {
	done := make(chan struct{})
	q.ch <- effect{done: done}
	return done
}

// close stops accepting effects and waits for the queue to drain.
func (q *effectQueue) close() {
	close(q.ch)
	<-q.stopped
}
