package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tradervane/brokerpulse/internal/vault"
)

// CredentialSource supplies the credentials to monitor. Satisfied by
// *vault.Vault.
type CredentialSource interface {
	List(ctx context.Context, userID string) ([]vault.Credential, error)
	Get(ctx context.Context, userID, id string) (*vault.Credential, error)
}

// HealthStore persists health records across restarts. Persistence is
// best-effort per check: an upsert failure never fails the check.
type HealthStore interface {
	Upsert(ctx context.Context, rec *HealthRecord) error
	Load(ctx context.Context, userID, credentialID string) (*HealthRecord, error)
}

// AuditStore records raised alerts for the operator-facing audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *AlertEntry) error
}

// AlertEntry is one persisted alert audit row.
type AlertEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CredentialID string    `json:"credential_id"`
	Kind         AlertKind `json:"kind"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Compile-time interface guards.
var (
	_ HealthStore = (*MonitorStore)(nil)
	_ AuditStore  = (*MonitorStore)(nil)
)

// MonitorStore provides database access for the monitor.
type MonitorStore struct {
	db *sql.DB
}

// NewMonitorStore creates a new MonitorStore backed by the given database.
func NewMonitorStore(db *sql.DB) *MonitorStore {
	return &MonitorStore{db: db}
}

// Upsert writes a health record, replacing any previous row for the same
// (user, credential) pair.
func (s *MonitorStore) Upsert(ctx context.Context, rec *HealthRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_health (
			user_id, credential_id, status, response_time_ms, last_checked_at,
			consecutive_failures, total_checks, successful_checks, uptime_percentage, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, credential_id) DO UPDATE SET
			status = excluded.status,
			response_time_ms = excluded.response_time_ms,
			last_checked_at = excluded.last_checked_at,
			consecutive_failures = excluded.consecutive_failures,
			total_checks = excluded.total_checks,
			successful_checks = excluded.successful_checks,
			uptime_percentage = excluded.uptime_percentage,
			error_message = excluded.error_message`,
		rec.UserID, rec.CredentialID, string(rec.Status), rec.ResponseTimeMs, rec.LastCheckedAt,
		rec.ConsecutiveFailures, rec.TotalChecks, rec.SuccessfulChecks, rec.UptimePercentage, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("upsert health record: %w", err)
	}
	return nil
}

// Load returns the persisted health record for a credential.
// Returns nil, nil if none exists.
func (s *MonitorStore) Load(ctx context.Context, userID, credentialID string) (*HealthRecord, error) {
	var rec HealthRecord
	var status string
	var lastChecked sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, credential_id, status, response_time_ms, last_checked_at,
			consecutive_failures, total_checks, successful_checks, uptime_percentage, error_message
		FROM monitor_health WHERE user_id = ? AND credential_id = ?`,
		userID, credentialID,
	).Scan(
		&rec.UserID, &rec.CredentialID, &status, &rec.ResponseTimeMs, &lastChecked,
		&rec.ConsecutiveFailures, &rec.TotalChecks, &rec.SuccessfulChecks, &rec.UptimePercentage, &rec.ErrorMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load health record: %w", err)
	}
	rec.Status = Status(status)
	if lastChecked.Valid {
		rec.LastCheckedAt = lastChecked.Time
	}
	return &rec, nil
}

// Append inserts an alert audit entry.
func (s *MonitorStore) Append(ctx context.Context, entry *AlertEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_alert_audit (id, user_id, credential_id, kind, severity, message, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.CredentialID, string(entry.Kind),
		entry.Severity, entry.Message, entry.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("append alert audit entry: %w", err)
	}
	return nil
}

// ListAlerts returns recent alert audit entries for a user, newest first.
// If limit <= 0, defaults to 100.
func (s *MonitorStore) ListAlerts(ctx context.Context, userID string, limit int) ([]AlertEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, credential_id, kind, severity, message, observed_at
		FROM monitor_alert_audit WHERE user_id = ? ORDER BY observed_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var entries []AlertEntry
	for rows.Next() {
		var e AlertEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.CredentialID, &kind,
			&e.Severity, &e.Message, &e.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		e.Kind = AlertKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
