package health

import (
	"regexp"
	"strings"
	"time"
)

// States reported in Status.Status
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Adapter errors regularly embed endpoints and credentials; these patterns
// strip them before a message leaves the process.
var (
	urlRegex         = regexp.MustCompile(`(?i)\b(?:https?|nats|wss?|ftp|sftp|jdbc:[a-z]+|imaps?|smtps?)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|passwd|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one adapter, or of a group of them
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, degraded, unhealthy
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics describes the last connection check
type Metrics struct {
	Latency          time.Duration `json:"latency"`
	ConsecutiveFails int           `json:"consecutive_fails,omitempty"`
	LastSuccess      time.Time     `json:"last_success,omitempty"`
}

// IsHealthy reports whether the state is healthy
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports whether the state is degraded
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports whether the state is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy carrying m
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// WithSubStatus returns a copy with sub appended. The copy never shares its
// backing array with s.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// FromError reports component as unhealthy with a sanitized err, or healthy
// with okMessage when err is nil.
func FromError(component string, err error, okMessage string) Status {
	if err == nil {
		return NewHealthy(component, okMessage)
	}
	return NewUnhealthy(component, Sanitize(err.Error()))
}

// Sanitize removes endpoints, paths, addresses and credentials from msg.
// URLs go first since they contain paths.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	out := urlRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = windowsPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, word := range []string{"password", "passwd", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(out, "[REDACTED]")
		}
	}
	return out
}
