package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (s *blockingSink) Emit(_ context.Context, event Event) {
	<-s.release
	s.got <- event
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatalf("expected nil dispatcher")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the sink, one fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), NewEvent("x", time.Now()))
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected drops with a full buffer")
	}

	close(sink.release)
	d.Close()
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), NewEvent("session_started", time.Now()))
	}
	d.Close()

	if got := len(sink.Events()); got != 3 {
		t.Fatalf("expected 3 delivered events, got %d", got)
	}
	d.Emit(context.Background(), NewEvent("late", time.Now()))
	if got := len(sink.Events()); got != 3 {
		t.Fatalf("closed dispatcher must ignore events, got %d", got)
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	event := NewEvent("session_theft_detected", time.Unix(1_700_000_000, 0))
	event.Series = "s-1"
	sink.Emit(context.Background(), event)

	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID == "" || decoded.Series != "s-1" || decoded.EventType != "session_theft_detected" {
		t.Fatalf("unexpected event %+v", decoded)
	}
}

func TestLogSinkWarnsOnFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	event := NewEvent("session_theft_detected", time.Now())
	event.Error = "session_theft_detected"
	sink.Emit(context.Background(), event)

	line := buf.String()
	if !strings.Contains(line, `"level":"warn"`) || !strings.Contains(line, `"component":"audit"`) {
		t.Fatalf("unexpected log line %s", line)
	}
}

func TestDispatcherNeverDropsPriorityEvents(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		Priority:   []string{"session_theft_detected"},
	}, sink)

	// Fill the routine lane while the sink is held.
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), NewEvent("session_started", time.Now()))
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected routine drops with a full buffer")
	}

	// The first priority event fits its own lane; the second waits for room
	// instead of being dropped.
	queued := make(chan struct{})
	go func() {
		d.Emit(context.Background(), NewEvent("session_theft_detected", time.Now()))
		d.Emit(context.Background(), NewEvent("session_theft_detected", time.Now()))
		close(queued)
	}()

	close(sink.release)
	select {
	case <-queued:
	case <-time.After(2 * time.Second):
		t.Fatalf("priority emit did not complete")
	}
	d.Close()

	theft := 0
	for len(sink.got) > 0 {
		if ev := <-sink.got; ev.EventType == "session_theft_detected" {
			theft++
		}
	}
	if theft != 2 {
		t.Fatalf("expected 2 theft events delivered, got %d", theft)
	}
	if d.Abandoned() != 0 {
		t.Fatalf("no priority event may be abandoned, got %d", d.Abandoned())
	}
}

type enteringSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *enteringSink) Emit(context.Context, Event) {
	s.entered <- struct{}{}
	<-s.release
}

func TestDispatcherPriorityAbandonedOnCancelledContext(t *testing.T) {
	sink := &enteringSink{entered: make(chan struct{}, 4), release: make(chan struct{})}
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		Priority:   []string{"session_theft_detected"},
	}, sink)

	// One event held by the sink, one filling the urgent lane.
	d.Emit(context.Background(), NewEvent("session_theft_detected", time.Now()))
	<-sink.entered
	d.Emit(context.Background(), NewEvent("session_theft_detected", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, NewEvent("session_theft_detected", time.Now()))
	if d.Abandoned() != 1 {
		t.Fatalf("expected 1 abandoned event, got %d", d.Abandoned())
	}
	if d.Dropped() != 0 {
		t.Fatalf("priority events must not count as dropped")
	}

	close(sink.release)
	d.Close()
}

func TestIsPriority(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, Priority: []string{"a"}}, NoOpSink{})
	defer d.Close()
	if !d.IsPriority("a") || d.IsPriority("b") {
		t.Fatalf("unexpected priority classification")
	}
	var nilD *Dispatcher
	if nilD.IsPriority("a") {
		t.Fatalf("nil dispatcher has no priority types")
	}
}
