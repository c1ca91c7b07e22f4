package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher hands events to a sink on one background goroutine, so login,
// refresh and logout never wait on the sink. Events reach the sink in the
// order Emit accepted them.
type Dispatcher struct {
	sink  Sink
	queue chan Event
	drop  bool

	// mu guards closed. Emit holds it shared while sending so Close cannot
	// close the queue under a sender.
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}

	dropMu  sync.Mutex
	dropped map[string]uint64
	total   atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
// All methods accept a nil dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, cfg.BufferSize),
		drop:    cfg.DropIfFull,
		stopped: make(chan struct{}),
		dropped: make(map[string]uint64),
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.stopped)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event. With DropIfFull a full queue drops the event; without
// it Emit waits for room until ctx is done. Either way a lost event is
// counted against its type. Events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.drop {
		select {
		case d.queue <- event:
		default:
			d.lost(event.EventType)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.lost(event.EventType)
	}
}

func (d *Dispatcher) lost(eventType string) {
	d.total.Add(1)
	d.dropMu.Lock()
	d.dropped[eventType]++
	d.dropMu.Unlock()
}

// Close stops accepting events and returns once every queued event has
// reached the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped returns the number of events lost to a full queue or a canceled
// context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.total.Load()
}

// DroppedByType returns the lost event counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := map[string]uint64{}
	if d == nil {
		return out
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	for k, v := range d.dropped {
		out[k] = v
	}
	return out
}
