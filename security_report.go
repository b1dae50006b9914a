package trustgate

import "github.com/MrEthical07/trustgate/internal/security"

// SecurityReport summarizes the effective session, cookie and admission
// settings of an engine.
type SecurityReport = security.Report

// CounterReport summarizes one admission counter in a SecurityReport.
type CounterReport = security.CounterReport

// SecurityReport describes the securityreport operation and its observable behavior.
//
// SecurityReport reads only the built configuration and never touches the cache.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	return security.BuildReport(security.ReportInput{
		IdleLifetime:           c.Session.IdleLifetime,
		AbsoluteLifetime:       c.Session.AbsoluteLifetime,
		RefreshLifetime:        c.Session.RefreshLifetime,
		RotationThreshold:      c.Session.RotationThreshold,
		RotationGracePeriod:    c.Session.RotationGracePeriod,
		SupersededHistory:      c.Session.SupersededHistory,
		CookieSecure:           c.Cookie.Secure,
		CookieHTTPOnly:         c.Cookie.HTTPOnly,
		CookieSameSite:         c.Cookie.SameSite,
		Quota:                  counterReport(c.Quota),
		Rate:                   counterReport(c.Rate),
		RequireKnownAPIKey:     c.APIKey.RequireKnownKey,
		APIKeyRotationInterval: c.APIKey.RotationInterval,
		APIKeyGraceOverlap:     c.APIKey.GraceOverlap,
		AuditEnabled:           c.Audit.Enabled,
		MetricsEnabled:         c.Metrics.Enabled,
	})
}

func counterReport(c CounterConfig) security.CounterReport {
	return security.CounterReport{
		Enabled:       c.Enabled,
		Window:        c.Window,
		Limit:         c.Limit,
		Subject:       string(c.Subject),
		FailurePolicy: string(c.FailurePolicy),
	}
}
