package agent

import (
	"context"
	"sync"
)

// Exchange is a running completion exchange.
type Exchange struct {
	id      string
	channel string
	ctx     context.Context

	text      *textQueue
	startText sync.Once
	out       chan string

	done chan struct{}
	res  Result
	err  error
}

func newExchange(ctx context.Context, id, channel string) *Exchange {
	return &Exchange{
		id:      id,
		channel: channel,
		ctx:     ctx,
		text:    newTextQueue(),
		out:     make(chan string),
		done:    make(chan struct{}),
	}
}

// ID returns the exchange ID.
func (e *Exchange) ID() string { return e.id }

// ThinkingChannel returns the bus channel reasoning output is published on.
func (e *Exchange) ThinkingChannel() string { return e.channel }

// Text streams the outer model's text deltas in order. The channel is closed
// when the exchange ends or its context is cancelled. Callers that stop
// reading must cancel the context passed to RunExchange.
func (e *Exchange) Text() <-chan string {
	e.startText.Do(func() {
		go e.text.pump(e.ctx, e.out)
	})
	return e.out
}

// Wait blocks until the exchange ends.
func (e *Exchange) Wait() (Result, error) {
	<-e.done
	return e.res, e.err
}

// Done is closed when the exchange ends.
func (e *Exchange) Done() <-chan struct{} { return e.done }

func (e *Exchange) finish(res Result, err error) {
	e.res, e.err = res, err
	e.text.close()
	close(e.done)
}

// textQueue buffers deltas without bound so the loop never waits on a reader.
type textQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	signal chan struct{}
}

func newTextQueue() *textQueue {
	return &textQueue{signal: make(chan struct{}, 1)}
}

func (q *textQueue) push(s string) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.mu.Unlock()
	q.notify()
}

func (q *textQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *textQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *textQueue) take() ([]string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items, q.closed
}

// pump moves queued items to out until the queue is closed and drained.
func (q *textQueue) pump(ctx context.Context, out chan<- string) {
	defer close(out)
	for {
		items, closed := q.take()
		for _, s := range items {
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
		if closed {
			return
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return
		}
	}
}
