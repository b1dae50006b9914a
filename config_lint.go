package trustgate

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	// LintInfo marks a setting worth knowing about.
	LintInfo LintSeverity = iota
	// LintWarn marks a setting likely to surprise in production.
	LintWarn
	// LintHigh marks a setting that weakens a security property.
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding of Config.Lint.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, 0, len(r))
	for _, w := range r {
		codes = append(codes, w.Code)
	}
	return codes
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns an error listing every warning at or above min, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	found := r.BySeverity(min)
	if len(found) == 0 {
		return nil
	}
	parts := make([]string, 0, len(found))
	for _, w := range found {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint describes the lint operation and its observable behavior.
//
// Lint reports settings that are valid but risky. It never fails; use
// Validate for hard errors and AsError to turn selected findings into one.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	s := c.Session
	if s.RotationThreshold < s.IdleLifetime {
		add("refresh_may_expire_idle", LintWarn,
			"RotationThreshold is shorter than IdleLifetime; a client idle between the two loses its session when the refresh pair expires")
	}
	if s.RotationGracePeriod > 0 {
		add("rotation_grace_enabled", LintInfo,
			"RotationGracePeriod is set; a replayed predecessor token inside the window is refused as a concurrent rotation and not reported as theft")
	}
	if s.RotationGracePeriod > time.Minute {
		add("rotation_grace_long", LintHigh,
			"RotationGracePeriod above one minute lets a stolen predecessor token be replayed for that long without being detected as theft")
	}
	if s.SupersededHistory < 8 {
		add("superseded_history_small", LintWarn,
			"SupersededHistory below 8; a token older than the history replays as an unknown token and is not detected as theft")
	}
	if s.AbsoluteLifetime > 30*24*time.Hour {
		add("absolute_lifetime_long", LintWarn, "AbsoluteLifetime exceeds 30 days")
	}

	if !c.Cookie.Secure || !c.Cookie.HTTPOnly {
		add("cookie_insecure", LintHigh, "session cookie should be Secure and HttpOnly")
	}

	if !c.Quota.Enabled && !c.Rate.Enabled {
		add("admission_disabled", LintHigh, "both quota and rate counters are disabled")
	}
	if c.Quota.Enabled && c.Quota.FailurePolicy == FailOpen {
		add("quota_fail_open", LintWarn, "quota admits requests while the cache is unreachable")
	}
	if c.Rate.Enabled && c.Rate.FailurePolicy == FailClosed {
		add("rate_fail_closed", LintInfo, "rate rejects every request while the cache is unreachable")
	}
	if c.Quota.Enabled && c.Rate.Enabled && c.Quota.Window < c.Rate.Window {
		add("quota_window_shorter_than_rate", LintWarn, "quota is expected to use the longer window")
	}

	if !c.APIKey.RequireKnownKey {
		add("api_key_unknown_allowed", LintWarn, "unknown API keys are admitted and counted on the raw key")
	}
	if c.APIKey.RotationInterval == 0 {
		add("api_key_rotation_disabled", LintInfo, "courtesy API key rotation is disabled")
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "theft detections are only visible in logs and metrics")
	}

	return ws
}
