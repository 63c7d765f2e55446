package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sensorfabric/sensord/internal/connection"
	"github.com/sensorfabric/sensord/internal/recent"
	"github.com/sensorfabric/sensord/internal/sensor"
)

// InjectedQueue is the condition-variable-backed queue a runtime sensor's
// user-space callback pushes samples into. Unlike the HAL poll loop,
// there is nothing to poll: the queue blocks its reader until a sample
// arrives or the context is cancelled.
type InjectedQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []sensor.Event
	closed bool
}

func NewInjectedQueue() *InjectedQueue {
	q := &InjectedQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues one runtime-sensor sample and wakes the reader.
func (q *InjectedQueue) Push(evt sensor.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, evt)
	q.cond.Signal()
}

// Close wakes any blocked reader permanently; further Push calls are
// ignored.
func (q *InjectedQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// drain blocks until at least one item is queued or the queue is closed,
// then returns and clears everything queued so far.
func (q *InjectedQueue) drain() ([]sensor.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	out := q.items
	q.items = nil
	return out, true
}

// RuntimeLoop is the secondary producer thread for runtime sensors: those
// whose samples originate from a user-space callback rather than the
// HAL. It shares the Connection Holder and Recent-Event Log with the
// primary dispatch loop but has no virtual-sensor expansion or wakelock
// duties of its own, since those sensors never carry the wake-up flag in
// the fakes this module tests against.
type RuntimeLoop struct {
	Queue  *InjectedQueue
	Holder *connection.Holder
	Recent *recent.Log

	log zerolog.Logger
}

func NewRuntimeLoop(queue *InjectedQueue, holder *connection.Holder, rec *recent.Log, log zerolog.Logger) *RuntimeLoop {
	return &RuntimeLoop{
		Queue:  queue,
		Holder: holder,
		Recent: rec,
		log:    log.With().Str("component", "runtime_dispatch").Logger(),
	}
}

// Run drains the injected queue until ctx is cancelled, at which point it
// closes the queue to unblock itself and return.
func (l *RuntimeLoop) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.Queue.Close()
	}()

	for {
		batch, ok := l.Queue.drain()
		if !ok {
			return
		}
		for _, evt := range batch {
			l.Recent.Record(evt)
		}
		flushDest := make([]*connection.EventConnection, len(batch))
		for _, c := range l.Holder.SnapshotEvents() {
			c.SendEvents(batch, flushDest)
		}
	}
}
