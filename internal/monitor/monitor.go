package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/event"
	"github.com/tradervane/brokerpulse/internal/store"
	"github.com/tradervane/brokerpulse/internal/vault"
	"github.com/tradervane/brokerpulse/internal/verify"
)

// ErrNotMonitoring is returned for operations that require an active
// monitoring session.
var ErrNotMonitoring = errors.New("user is not being monitored")

// ErrRecordNotFound is returned when no health record exists for a credential.
var ErrRecordNotFound = errors.New("no health record for credential")

// Stats aggregates a user's in-memory health records.
type Stats struct {
	TotalCredentials    int     `json:"total_credentials"`
	HealthyCount        int     `json:"healthy_count"`
	DegradedCount       int     `json:"degraded_count"`
	FailedCount         int     `json:"failed_count"`
	AvgResponseTimeMs   float64 `json:"avg_response_time_ms"`
	AvgUptimePercentage float64 `json:"avg_uptime_percentage"`
}

// Monitor owns per-user monitoring sessions: a ticking check loop over the
// user's credentials, the in-memory health records, and the update fan-out.
type Monitor struct {
	creds     CredentialSource
	validator *verify.Validator
	health    HealthStore
	alerts    *AlertEvaluator
	registry  *Registry
	bus       *event.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one user's monitoring state. The record map is owned by the
// session; readers only ever receive copies.
type session struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	records map[string]*HealthRecord // credential_id -> record
}

// Setup applies the monitor schema migrations and returns its store.
func Setup(ctx context.Context, db *store.SQLiteStore) (*MonitorStore, error) {
	if err := db.Migrate(ctx, "monitor", migrations()); err != nil {
		return nil, fmt.Errorf("monitor migrations: %w", err)
	}
	return NewMonitorStore(db.DB()), nil
}

// New creates a monitor. The bus is optional; pass nil to disable event
// publication.
func New(creds CredentialSource, validator *verify.Validator, health HealthStore, alerts *AlertEvaluator, bus *event.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		creds:     creds,
		validator: validator,
		health:    health,
		alerts:    alerts,
		registry:  NewRegistry(logger),
		bus:       bus,
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// StartMonitoring begins a periodic check loop for the user's credentials.
// Idempotent per user: starting an already-monitored user keeps the running
// session and its original config. A nil config selects DefaultConfig.
func (m *Monitor) StartMonitoring(ctx context.Context, userID string, cfg *Config) error {
	if userID == "" {
		return fmt.Errorf("start monitoring: user id must not be empty")
	}

	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		m.logger.Debug("monitoring already active, keeping existing session",
			zap.String("user_id", userID))
		return nil
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		cfg:     c,
		ctx:     sctx,
		cancel:  cancel,
		records: make(map[string]*HealthRecord),
	}
	m.sessions[userID] = sess
	active := len(m.sessions)
	m.mu.Unlock()

	if err := m.seedRecords(ctx, userID, sess); err != nil {
		m.mu.Lock()
		delete(m.sessions, userID)
		m.mu.Unlock()
		cancel()
		return err
	}

	sess.wg.Add(1)
	go m.run(userID, sess)

	monitoredUsers.Set(float64(active))
	m.logger.Info("monitoring started",
		zap.String("user_id", userID),
		zap.Duration("check_interval", c.CheckInterval),
		zap.Int("credentials", len(sess.records)),
	)
	return nil
}

// StopMonitoring cancels the user's check loop and drops the in-memory
// records. Safe to call when not monitoring.
func (m *Monitor) StopMonitoring(userID string) {
	m.mu.Lock()
	sess := m.sessions[userID]
	delete(m.sessions, userID)
	active := len(m.sessions)
	m.mu.Unlock()

	if sess == nil {
		return
	}

	sess.cancel()
	sess.wg.Wait()

	monitoredUsers.Set(float64(active))
	m.logger.Info("monitoring stopped", zap.String("user_id", userID))
}

// StopAll stops every active session. Used on shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	users := make([]string, 0, len(m.sessions))
	for userID := range m.sessions {
		users = append(users, userID)
	}
	m.mu.Unlock()

	for _, userID := range users {
		m.StopMonitoring(userID)
	}
}

// IsMonitoring reports whether the user has an active session.
func (m *Monitor) IsMonitoring(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}

// Subscribe registers a callback for the user's health updates.
func (m *Monitor) Subscribe(userID string, fn UpdateFunc) (unsubscribe func()) {
	return m.registry.Subscribe(userID, fn)
}

// ForceHealthCheck runs one immediate check for a credential outside the
// tick cadence and returns the resulting record.
func (m *Monitor) ForceHealthCheck(ctx context.Context, userID, credentialID string) (*HealthRecord, error) {
	sess := m.session(userID)
	if sess == nil {
		return nil, ErrNotMonitoring
	}

	m.checkCredential(ctx, userID, credentialID, sess)

	rec := m.GetHealthStatus(userID, credentialID)
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// GetHealthStatus returns a snapshot of one credential's health record,
// or nil when none exists.
func (m *Monitor) GetHealthStatus(userID, credentialID string) *HealthRecord {
	sess := m.session(userID)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	rec, ok := sess.records[credentialID]
	if !ok {
		return nil
	}
	snapshot := *rec
	return &snapshot
}

// GetAllHealthStatuses returns snapshots of all health records for a user,
// ordered by credential ID.
func (m *Monitor) GetAllHealthStatuses(userID string) []HealthRecord {
	sess := m.session(userID)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	out := make([]HealthRecord, 0, len(sess.records))
	for _, rec := range sess.records {
		out = append(out, *rec)
	}
	sess.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out
}

// GetMonitoringStats aggregates the user's current records.
func (m *Monitor) GetMonitoringStats(userID string) Stats {
	records := m.GetAllHealthStatuses(userID)

	stats := Stats{TotalCredentials: len(records)}
	if len(records) == 0 {
		return stats
	}

	var sumResponse, sumUptime float64
	for _, rec := range records {
		switch rec.Status {
		case StatusConnected:
			stats.HealthyCount++
		case StatusDegraded:
			stats.DegradedCount++
		case StatusError:
			stats.FailedCount++
		}
		sumResponse += float64(rec.ResponseTimeMs)
		sumUptime += rec.UptimePercentage
	}
	stats.AvgResponseTimeMs = sumResponse / float64(len(records))
	stats.AvgUptimePercentage = sumUptime / float64(len(records))
	return stats
}

func (m *Monitor) session(userID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// seedRecords initializes the session's record map from persisted state,
// falling back to a fresh unknown/100% record per credential.
func (m *Monitor) seedRecords(ctx context.Context, userID string, sess *session) error {
	creds, err := m.creds.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("load credentials for %s: %w", userID, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, cred := range creds {
		rec, err := m.health.Load(ctx, userID, cred.ID)
		if err != nil {
			m.logger.Warn("failed to load persisted health record, starting fresh",
				zap.String("credential_id", cred.ID),
				zap.Error(err),
			)
			rec = nil
		}
		if rec == nil {
			rec = newHealthRecord(userID, cred.ID)
		}
		sess.records[cred.ID] = rec
	}
	return nil
}

// run is the per-user ticking loop: one immediate check after the initial
// delay, then one per interval. A tick completes (all dispatched checks
// done) before the next is taken, so checks for the same credential never
// overlap across ticks.
func (m *Monitor) run(userID string, sess *session) {
	defer sess.wg.Done()

	initial := time.NewTimer(sess.cfg.InitialCheckDelay)
	defer initial.Stop()
	select {
	case <-sess.ctx.Done():
		return
	case <-initial.C:
	}
	m.performHealthCheck(sess.ctx, userID, sess)

	ticker := time.NewTicker(sess.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			m.performHealthCheck(sess.ctx, userID, sess)
		}
	}
}

// performHealthCheck loads the credential list fresh (so added or removed
// credentials are picked up without a restart) and fans the checks out to
// a bounded worker pool.
func (m *Monitor) performHealthCheck(ctx context.Context, userID string, sess *session) {
	creds, err := m.creds.List(ctx, userID)
	if err != nil {
		m.logger.Warn("failed to list credentials for health check",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	m.pruneRecords(sess, creds)

	if len(creds) == 0 {
		return
	}

	// Semaphore-based worker pool.
	sem := make(chan struct{}, sess.cfg.MaxWorkers)
	var wg sync.WaitGroup

dispatch:
	for i := range creds {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(credentialID string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					m.logger.Error("health check panicked",
						zap.String("credential_id", credentialID),
						zap.Any("panic", p),
					)
				}
			}()
			m.checkCredential(ctx, userID, credentialID, sess)
		}(creds[i].ID)
	}

	wg.Wait()
}

// pruneRecords drops in-memory records for credentials that no longer exist.
func (m *Monitor) pruneRecords(sess *session, creds []vault.Credential) {
	current := make(map[string]struct{}, len(creds))
	for _, c := range creds {
		current[c.ID] = struct{}{}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for id := range sess.records {
		if _, ok := current[id]; !ok {
			delete(sess.records, id)
		}
	}
}

// checkCredential runs one single-attempt check and applies the outcome.
// Monitoring never retries inside a tick; retrying is an interactive
// validation concern.
func (m *Monitor) checkCredential(ctx context.Context, userID, credentialID string, sess *session) {
	start := time.Now()

	cred, err := m.creds.Get(ctx, userID, credentialID)
	if err != nil {
		m.logger.Warn("failed to fetch credential for health check",
			zap.String("credential_id", credentialID),
			zap.Error(err),
		)
		m.applyCheck(ctx, userID, credentialID, sess, func(rec *HealthRecord) {
			rec.ConsecutiveFailures++
			rec.Status = m.failureStatus(rec.ConsecutiveFailures, sess.cfg)
			rec.ResponseTimeMs = time.Since(start).Milliseconds()
			rec.ErrorMessage = "credential storage error"
		})
		checksTotal.WithLabelValues("failure").Inc()
		return
	}

	if cred == nil {
		m.applyMissing(ctx, userID, credentialID, sess)
		checksTotal.WithLabelValues("not_found").Inc()
		return
	}

	res, err := m.validator.Validate(ctx, *cred, verify.SingleAttempt(), sess.cfg.Timeout)
	elapsed := time.Since(start)
	checkDuration.Observe(elapsed.Seconds())

	if err != nil {
		// Session stopped mid-check: drop the result.
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("validation failed unexpectedly",
			zap.String("credential_id", credentialID),
			zap.Error(err),
		)
		m.applyCheck(ctx, userID, credentialID, sess, func(rec *HealthRecord) {
			rec.ConsecutiveFailures++
			rec.Status = m.failureStatus(rec.ConsecutiveFailures, sess.cfg)
			rec.ResponseTimeMs = elapsed.Milliseconds()
			rec.ErrorMessage = err.Error()
		})
		checksTotal.WithLabelValues("failure").Inc()
		return
	}

	if res.IsValid {
		m.applyCheck(ctx, userID, credentialID, sess, func(rec *HealthRecord) {
			rec.ConsecutiveFailures = 0
			rec.Status = StatusConnected
			rec.ResponseTimeMs = elapsed.Milliseconds()
			rec.ErrorMessage = ""
			rec.SuccessfulChecks++
		})
		checksTotal.WithLabelValues("success").Inc()
		return
	}

	m.applyCheck(ctx, userID, credentialID, sess, func(rec *HealthRecord) {
		rec.ConsecutiveFailures++
		rec.Status = m.failureStatus(rec.ConsecutiveFailures, sess.cfg)
		rec.ResponseTimeMs = elapsed.Milliseconds()
		rec.ErrorMessage = res.ErrorMessage
		if rec.ErrorMessage == "" {
			rec.ErrorMessage = string(res.ErrorKind)
		}
	})
	checksTotal.WithLabelValues("failure").Inc()
}

func (m *Monitor) failureStatus(consecutiveFailures int, cfg Config) Status {
	if consecutiveFailures >= cfg.MaxConsecutiveFailures {
		return StatusError
	}
	return StatusDegraded
}

// applyCheck mutates the record under the session lock, bumps the check
// counters, then persists, broadcasts, and evaluates alerts on a snapshot.
// Persistence is best-effort: a store failure keeps the in-memory update
// and the broadcast.
func (m *Monitor) applyCheck(ctx context.Context, userID, credentialID string, sess *session, apply func(*HealthRecord)) {
	sess.mu.Lock()
	rec, ok := sess.records[credentialID]
	if !ok {
		rec = newHealthRecord(userID, credentialID)
		sess.records[credentialID] = rec
	}
	apply(rec)
	rec.LastCheckedAt = time.Now().UTC()
	rec.TotalChecks++
	rec.recomputeUptime()
	snapshot := *rec
	sess.mu.Unlock()

	m.commit(ctx, userID, credentialID, sess, snapshot, true)
}

// applyMissing records a not-found outcome. The check is not counted
// against the credential's uptime and raises no alerts; a record for a
// credential that no longer exists gets pruned on the next tick anyway.
func (m *Monitor) applyMissing(ctx context.Context, userID, credentialID string, sess *session) {
	sess.mu.Lock()
	rec, ok := sess.records[credentialID]
	if !ok {
		rec = newHealthRecord(userID, credentialID)
		sess.records[credentialID] = rec
	}
	rec.Status = StatusError
	rec.ResponseTimeMs = 0
	rec.ErrorMessage = "credential not found"
	rec.LastCheckedAt = time.Now().UTC()
	snapshot := *rec
	sess.mu.Unlock()

	m.commit(ctx, userID, credentialID, sess, snapshot, false)
}

func (m *Monitor) commit(ctx context.Context, userID, credentialID string, sess *session, snapshot HealthRecord, evaluate bool) {
	// A session stopped while this check was in flight no longer persists
	// or broadcasts.
	if sess.ctx.Err() != nil {
		return
	}

	if err := m.health.Upsert(ctx, &snapshot); err != nil {
		m.logger.Warn("failed to persist health record",
			zap.String("credential_id", credentialID),
			zap.Error(err),
		)
	}

	if sess.cfg.EnableRealTimeUpdates {
		m.registry.Notify(userID, snapshot)
		if m.bus != nil {
			m.bus.PublishAsync(ctx, event.Event{
				Topic:     TopicHealthUpdated,
				Source:    "monitor",
				Timestamp: snapshot.LastCheckedAt,
				Payload:   snapshot,
			})
		}
	}

	if evaluate {
		m.alerts.Process(ctx, snapshot, sess.cfg)
	}
}
