// Package monitor runs continuous health checks over stored broker
// credentials, tracking per-credential health and raising threshold alerts.
package monitor

import "time"

// Status is the per-credential connection state.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusConnected Status = "connected"
	StatusDegraded  Status = "degraded"
	StatusError     Status = "error"
)

// HealthRecord captures point-in-time and cumulative health for one
// credential. Mutated only by the monitor's check path; everything handed
// out through the API is a copy.
type HealthRecord struct {
	CredentialID        string    `json:"credential_id"`
	UserID              string    `json:"user_id"`
	Status              Status    `json:"status"`
	ResponseTimeMs      int64     `json:"response_time_ms"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalChecks         int64     `json:"total_checks"`
	SuccessfulChecks    int64     `json:"successful_checks"`
	UptimePercentage    float64   `json:"uptime_percentage"`
	ErrorMessage        string    `json:"error_message,omitempty"`
}

// newHealthRecord seeds a fresh record for a credential that has never
// been checked.
func newHealthRecord(userID, credentialID string) *HealthRecord {
	return &HealthRecord{
		CredentialID:     credentialID,
		UserID:           userID,
		Status:           StatusUnknown,
		UptimePercentage: 100,
	}
}

// recomputeUptime derives the uptime percentage from the check counters,
// clamped to [0, 100]. A credential with no checks counts as fully up.
func (r *HealthRecord) recomputeUptime() {
	if r.TotalChecks <= 0 {
		r.UptimePercentage = 100
		return
	}
	pct := 100 * float64(r.SuccessfulChecks) / float64(r.TotalChecks)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	r.UptimePercentage = pct
}
