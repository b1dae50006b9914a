package trustgate

import (
	"io"

	internalaudit "github.com/MrEthical07/trustgate/internal/audit"
	"github.com/rs/zerolog"
)

// AuditEvent is one security-relevant occurrence emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// LogSink writes events through a zerolog logger.
type LogSink = internalaudit.LogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogSink returns a sink logging through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return internalaudit.NewLogSink(logger)
}

const (
	AuditEventSessionStarted       = "session_started"
	AuditEventSessionRotated       = "session_rotated"
	AuditEventSessionNotFound      = "session_not_found"
	AuditEventSessionTheftDetected = "session_theft_detected"
	AuditEventConcurrentRotation   = "session_concurrent_rotation"
	AuditEventLogout               = "session_logout"
	AuditEventRateLimited          = "admission_rate_limited"
	AuditEventQuotaExceeded        = "admission_quota_exceeded"
	AuditEventAdmissionDegraded    = "admission_degraded"
	AuditEventAPIKeyIssued         = "api_key_issued"
	AuditEventAPIKeyRotated        = "api_key_rotated"
)
