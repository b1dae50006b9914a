package security

import "time"

// CounterReport summarizes one admission counter.
type CounterReport struct {
	Enabled       bool
	Window        time.Duration
	Limit         int64
	Subject       string
	FailurePolicy string
	FailsOpen     bool
}

// Report is the security posture derived from a configuration.
type Report struct {
	IdleLifetime             time.Duration
	AbsoluteLifetime         time.Duration
	RefreshLifetime          time.Duration
	RotationThreshold        time.Duration
	RotationGracePeriod      time.Duration
	TheftDetectionDepth      int
	RefreshMayExpireWhenIdle bool

	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string

	Quota CounterReport
	Rate  CounterReport
	// AdmissionFailsOpen is true when any enabled counter admits without its backend.
	AdmissionFailsOpen bool

	RequireKnownAPIKey   bool
	APIKeyRotationActive bool
	APIKeyGraceOverlap   time.Duration

	AuditEnabled   bool
	MetricsEnabled bool
}

// ReportInput is the flattened configuration BuildReport reads.
type ReportInput struct {
	IdleLifetime        time.Duration
	AbsoluteLifetime    time.Duration
	RefreshLifetime     time.Duration
	RotationThreshold   time.Duration
	RotationGracePeriod time.Duration
	SupersededHistory   int

	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string

	Quota CounterReport
	Rate  CounterReport

	RequireKnownAPIKey     bool
	APIKeyRotationInterval time.Duration
	APIKeyGraceOverlap     time.Duration

	AuditEnabled   bool
	MetricsEnabled bool
}

// BuildReport derives the posture from input.
func BuildReport(input ReportInput) Report {
	quota := input.Quota
	quota.FailsOpen = quota.Enabled && quota.FailurePolicy == "open"
	rate := input.Rate
	rate.FailsOpen = rate.Enabled && rate.FailurePolicy == "open"

	return Report{
		IdleLifetime:             input.IdleLifetime,
		AbsoluteLifetime:         input.AbsoluteLifetime,
		RefreshLifetime:          input.RefreshLifetime,
		RotationThreshold:        input.RotationThreshold,
		RotationGracePeriod:      input.RotationGracePeriod,
		TheftDetectionDepth:      input.SupersededHistory,
		RefreshMayExpireWhenIdle: input.RotationThreshold < input.IdleLifetime,
		CookieSecure:             input.CookieSecure,
		CookieHTTPOnly:           input.CookieHTTPOnly,
		CookieSameSite:           input.CookieSameSite,
		Quota:                    quota,
		Rate:                     rate,
		AdmissionFailsOpen:       quota.FailsOpen || rate.FailsOpen,
		RequireKnownAPIKey:       input.RequireKnownAPIKey,
		APIKeyRotationActive:     input.APIKeyRotationInterval > 0,
		APIKeyGraceOverlap:       input.APIKeyGraceOverlap,
		AuditEnabled:             input.AuditEnabled,
		MetricsEnabled:           input.MetricsEnabled,
	}
}
