package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
//
// Events whose type is listed in Priority travel on their own lane. They are
// delivered before any queued routine event and are never dropped because the
// buffer is full, even with DropIfFull set; Emit waits for room instead.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Priority   []string
}

// Dispatcher asynchronously forwards audit events to a sink. A nil
// Dispatcher accepts and discards events.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	priority   map[string]struct{}

	routine chan Event
	urgent  chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	dropped   atomic.Uint64
	abandoned atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		priority:   make(map[string]struct{}, len(cfg.Priority)),
		routine:    make(chan Event, size),
		urgent:     make(chan Event, size),
		done:       make(chan struct{}),
	}
	for _, t := range cfg.Priority {
		d.priority[t] = struct{}{}
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) deliver(event Event) {
	d.sink.Emit(context.Background(), event)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		// Drain the urgent lane before looking at routine events.
		select {
		case event := <-d.urgent:
			d.deliver(event)
			continue
		default:
		}

		select {
		case event := <-d.urgent:
			d.deliver(event)
		case event := <-d.routine:
			d.deliver(event)
		case <-d.done:
			d.drain(d.urgent)
			d.drain(d.routine)
			return
		}
	}
}

func (d *Dispatcher) drain(ch chan Event) {
	for {
		select {
		case event := <-ch:
			d.deliver(event)
		default:
			return
		}
	}
}

// IsPriority reports whether events of eventType use the priority lane.
func (d *Dispatcher) IsPriority(eventType string) bool {
	if d == nil {
		return false
	}
	_, ok := d.priority[eventType]
	return ok
}

// Emit queues event. Routine events are dropped and counted when the buffer
// is full and DropIfFull is set; otherwise Emit waits for room until ctx is
// done. Priority events always wait; one abandoned because ctx ended is
// counted by Abandoned.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.IsPriority(event.EventType) {
		select {
		case d.urgent <- event:
		case <-d.done:
		case <-ctx.Done():
			d.abandoned.Add(1)
		}
		return
	}

	if d.dropIfFull {
		select {
		case d.routine <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.routine <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events and drains both lanes into the sink, priority
// events first.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of routine events discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Abandoned returns the number of priority events whose caller context ended
// before the event could be queued.
func (d *Dispatcher) Abandoned() uint64 {
	if d == nil {
		return 0
	}
	return d.abandoned.Load()
}
