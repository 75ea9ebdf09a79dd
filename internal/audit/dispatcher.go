package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events instead of blocking the caller when the
	// queue is full. Discards are counted by Dropped.
	DropIfFull bool
}

// Dispatcher relays events to a Sink from a single background goroutine so
// slow sinks never sit on the request path.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool

	mu      sync.RWMutex // guards queue against send-after-close
	queue   chan Event
	stopped bool
	drained chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher returns nil when auditing is disabled. All methods accept a
// nil receiver.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		drained:    make(chan struct{}),
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.drained)
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit fills in Timestamp and a ULID when they are missing, then queues the
// event. In blocking mode it gives up when ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ID == "" {
		ev.ID = NewEventID(ev.Timestamp)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case d.queue <- ev:
	case <-cancelled:
	}
}

// Close stops intake and waits until every queued event reached the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.drained
}

// Dropped reports how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
