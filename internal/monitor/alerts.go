package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/event"
)

// AlertKind identifies which threshold a health record breached.
type AlertKind string

const (
	AlertHighLatency     AlertKind = "high_latency"
	AlertLowUptime       AlertKind = "low_uptime"
	AlertRepeatedFailure AlertKind = "repeated_failure"
)

// Alert is a derived signal raised when a health metric crosses a
// configured threshold. Transient: evaluated per check, persisted only
// through the audit store.
type Alert struct {
	CredentialID string    `json:"credential_id"`
	UserID       string    `json:"user_id"`
	Kind         AlertKind `json:"kind"`
	Message      string    `json:"message"`
	ObservedAt   time.Time `json:"observed_at"`
}

// AlertEvaluator inspects updated health records against thresholds.
// Stateless; repeated breaches raise repeated alerts (de-duplication is a
// consumer concern).
type AlertEvaluator struct {
	audit  AuditStore
	bus    *event.Bus
	logger *zap.Logger
}

// NewAlertEvaluator creates an evaluator that appends alerts to the audit
// store and publishes them on the bus.
func NewAlertEvaluator(audit AuditStore, bus *event.Bus, logger *zap.Logger) *AlertEvaluator {
	return &AlertEvaluator{audit: audit, bus: bus, logger: logger}
}

// Evaluate returns every alert the record triggers under the given config.
// Rules are independent: one check can raise several alerts.
func (e *AlertEvaluator) Evaluate(rec HealthRecord, cfg Config) []Alert {
	now := time.Now().UTC()
	var alerts []Alert

	if rec.ResponseTimeMs > cfg.AlertThresholds.ResponseTimeMs {
		alerts = append(alerts, Alert{
			CredentialID: rec.CredentialID,
			UserID:       rec.UserID,
			Kind:         AlertHighLatency,
			Message:      fmt.Sprintf("high response time: %dms", rec.ResponseTimeMs),
			ObservedAt:   now,
		})
	}

	if rec.UptimePercentage < cfg.AlertThresholds.UptimePercentage {
		alerts = append(alerts, Alert{
			CredentialID: rec.CredentialID,
			UserID:       rec.UserID,
			Kind:         AlertLowUptime,
			Message:      fmt.Sprintf("low uptime: %.1f%%", rec.UptimePercentage),
			ObservedAt:   now,
		})
	}

	if rec.Status == StatusError && rec.ConsecutiveFailures >= cfg.MaxConsecutiveFailures {
		alerts = append(alerts, Alert{
			CredentialID: rec.CredentialID,
			UserID:       rec.UserID,
			Kind:         AlertRepeatedFailure,
			Message:      fmt.Sprintf("connection failed %d times consecutively", rec.ConsecutiveFailures),
			ObservedAt:   now,
		})
	}

	return alerts
}

// Process evaluates the record and persists/publishes every raised alert.
// Audit failures are logged, never propagated: alerting must not break
// the monitoring loop.
func (e *AlertEvaluator) Process(ctx context.Context, rec HealthRecord, cfg Config) []Alert {
	alerts := e.Evaluate(rec, cfg)

	severity := "medium"
	if rec.Status == StatusError {
		severity = "high"
	}

	for _, a := range alerts {
		alertsTotal.WithLabelValues(string(a.Kind)).Inc()

		e.logger.Warn("alert raised",
			zap.String("credential_id", a.CredentialID),
			zap.String("user_id", a.UserID),
			zap.String("kind", string(a.Kind)),
			zap.String("severity", severity),
			zap.String("message", a.Message),
		)

		entry := &AlertEntry{
			ID:           uuid.NewString(),
			UserID:       a.UserID,
			CredentialID: a.CredentialID,
			Kind:         a.Kind,
			Severity:     severity,
			Message:      a.Message,
			ObservedAt:   a.ObservedAt,
		}
		if err := e.audit.Append(ctx, entry); err != nil {
			e.logger.Warn("failed to append alert audit entry",
				zap.String("credential_id", a.CredentialID),
				zap.Error(err),
			)
		}

		if e.bus != nil {
			e.bus.PublishAsync(ctx, event.Event{
				Topic:     TopicAlertRaised,
				Source:    "monitor",
				Timestamp: a.ObservedAt,
				Payload:   a,
			})
		}
	}

	return alerts
}
