package trustgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

func auditConfig(c *Config) {
	c.Audit.Enabled = true
	c.Audit.BufferSize = 64
	c.Audit.DropIfFull = false
}

// drain closes the engine so every buffered event reaches the sink.
func drain(e *memoryEngine, sink *ChannelSink) []AuditEvent {
	e.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	e := newMemoryEngine(t, nil, func(b *Builder) { b.WithAuditSink(sink) })

	grant := mustStart(t, e.Engine, "acct-1")
	_, _ = e.RotateSeries(context.Background(), grant.Cookie)
	e.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit events when disabled, got %d", sink.Count())
	}
}

func TestAuditTheftEventCarriesSeries(t *testing.T) {
	sink := NewChannelSink(64)
	e := newMemoryEngine(t, auditConfig, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	grant := mustStart(t, e.Engine, "acct-1")
	if _, err := e.RotateSeries(ctx, grant.Cookie); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	e.clock.Advance(time.Minute)
	_, _ = e.Authenticate(ctx, grant.Cookie)

	var theft *AuditEvent
	events := drain(e, sink)
	for i := range events {
		if events[i].EventType == AuditEventSessionTheftDetected {
			theft = &events[i]
		}
	}
	if theft == nil {
		t.Fatalf("expected theft audit event, got %+v", events)
	}
	if theft.Series != string(grant.Cookie.Series) || theft.AccountID != "acct-1" || theft.Success {
		t.Fatalf("unexpected theft event %+v", theft)
	}
	if theft.Error != string(auditErrTheftDetected) || theft.ID == "" {
		t.Fatalf("expected error code and id, got %+v", theft)
	}
	if !theft.Timestamp.Equal(e.clock.Now().UTC()) {
		t.Fatalf("expected event stamped with engine clock, got %v", theft.Timestamp)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(64)
	e := newMemoryEngine(t, auditConfig, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	key, err := e.IssueAPIKey(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	grant := mustStart(t, e.Engine, "acct-1")
	rotated, err := e.RotateSeries(ctx, grant.Cookie)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	for i := 0; i < 6; i++ {
		_, _ = e.Handle(ctx, Request{APIKey: key})
	}

	needles := []string{
		string(key),
		string(grant.Cookie.Refresh),
		string(rotated.Cookie.Refresh),
		grant.Encoded,
		rotated.Encoded,
		"tenant-a",
	}

	events := drain(e, sink)
	if len(events) == 0 {
		t.Fatalf("expected audit events")
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		for _, needle := range needles {
			if strings.Contains(string(data), needle) {
				t.Fatalf("event %s leaked %q", ev.EventType, needle)
			}
		}
	}
}

func TestAuditLogSinkWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(NewLogger(LoggingConfig{Level: "info", Format: "json"}, &buf))

	sink.Emit(context.Background(), AuditEvent{
		ID:        "evt-1",
		EventType: AuditEventLogout,
		Series:    "series-1",
		Success:   true,
	})

	if !strings.Contains(buf.String(), `"event":"session_logout"`) || !strings.Contains(buf.String(), `"series":"series-1"`) {
		t.Fatalf("expected structured audit log line, got %s", buf.String())
	}
}

type gateSink struct {
	release chan struct{}
	got     chan AuditEvent
}

func (s *gateSink) Emit(_ context.Context, ev AuditEvent) {
	<-s.release
	s.got <- ev
}

func TestAuditTheftSurvivesFullBuffer(t *testing.T) {
	sink := &gateSink{release: make(chan struct{}), got: make(chan AuditEvent, 64)}
	e := newMemoryEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 1
		c.Audit.DropIfFull = true
	}, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	grant := mustStart(t, e.Engine, "acct-1")
	if _, err := e.RotateSeries(ctx, grant.Cookie); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	for i := 0; i < 3; i++ {
		mustStart(t, e.Engine, "acct-filler")
	}
	if e.AuditDropped() == 0 {
		t.Fatalf("expected routine events dropped with a held sink")
	}

	if _, err := e.Authenticate(ctx, grant.Cookie); !errors.Is(err, ErrSessionTheftDetected) {
		t.Fatalf("expected theft, got %v", err)
	}

	close(sink.release)
	e.Close()
	close(sink.got)

	found := false
	for ev := range sink.got {
		if ev.EventType == AuditEventSessionTheftDetected {
			found = true
		}
	}
	if !found {
		t.Fatalf("theft event was dropped")
	}
}
