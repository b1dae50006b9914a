package trustgate

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/trustgate/credential"
	internalaudit "github.com/MrEthical07/trustgate/internal/audit"
	"github.com/MrEthical07/trustgate/internal/flows"
	"github.com/MrEthical07/trustgate/session"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrTheftDetected      AuditErrorCode = "theft_detected"
	auditErrConcurrentRotation AuditErrorCode = "concurrent_rotation"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrQuotaExceeded      AuditErrorCode = "quota_exceeded"
	auditErrAPIKeyInvalid      AuditErrorCode = "api_key_invalid"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
)

// emitAudit builds an event stamped with the engine clock and hands it to the
// dispatcher. fill is not called when auditing is disabled.
func (e *Engine) emitAudit(ctx context.Context, fill func(*AuditEvent)) {
	if e == nil || e.audit == nil {
		return
	}

	event := internalaudit.NewEvent("", e.clock())
	fill(&event)
	if ctx != nil && e.audit.IsPriority(event.EventType) {
		// A cancelled request must not cost the theft record.
		ctx = context.WithoutCancel(ctx)
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) emitSessionAudit(ctx context.Context, eventType string, success bool, rec *session.Record, err error) {
	e.emitAudit(ctx, func(ev *AuditEvent) {
		ev.EventType = eventType
		ev.Success = success
		if rec != nil {
			ev.AccountID = rec.AccountID
			ev.SessionID = string(rec.SessionID)
			ev.Series = string(rec.Series)
			ev.Metadata = map[string]string{
				"revision": strconv.FormatUint(rec.Revision, 10),
			}
		}
		ev.Error = string(auditErrorCode(err))
	})
}

func (e *Engine) emitAdmissionAudit(
	ctx context.Context,
	eventType string,
	success bool,
	res flows.AdmissionResult,
	err error,
	metadata map[string]string,
) {
	e.emitAudit(ctx, func(ev *AuditEvent) {
		ev.EventType = eventType
		ev.Success = success
		if res.Key != nil {
			ev.Subject = credential.SubjectDigest(res.Key.Issuer)
		}
		ev.Error = string(auditErrorCode(err))
		ev.Metadata = metadata
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSessionTheftDetected):
		return auditErrTheftDetected
	case errors.Is(err, ErrConcurrentRotation):
		return auditErrConcurrentRotation
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrQuotaExceeded):
		return auditErrQuotaExceeded
	case errors.Is(err, ErrAPIKeyInvalid):
		return auditErrAPIKeyInvalid
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	default:
		// Degraded counters report the raw backend error.
		return auditErrUnavailable
	}
}
