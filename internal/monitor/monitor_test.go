package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/probe"
	"github.com/tradervane/brokerpulse/internal/store"
	"github.com/tradervane/brokerpulse/internal/vault"
	"github.com/tradervane/brokerpulse/internal/verify"
)

// fakeCreds is an in-memory CredentialSource.
type fakeCreds struct {
	mu      sync.Mutex
	creds   map[string]vault.Credential
	listErr error
}

func newFakeCreds(creds ...vault.Credential) *fakeCreds {
	f := &fakeCreds{creds: make(map[string]vault.Credential)}
	for _, c := range creds {
		f.creds[c.ID] = c
	}
	return f
}

func (f *fakeCreds) List(_ context.Context, userID string) ([]vault.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []vault.Credential
	for _, c := range f.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCreds) Get(_ context.Context, userID, id string) (*vault.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeCreds) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, id)
}

// fakeProber returns the configured result per credential ID, defaulting
// to success.
type fakeProber struct {
	mu      sync.Mutex
	results map[string]probe.Result
	calls   int
}

func newFakeProber() *fakeProber {
	return &fakeProber{results: make(map[string]probe.Result)}
}

func (p *fakeProber) set(credID string, res probe.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[credID] = res
}

func (p *fakeProber) Probe(_ context.Context, cred vault.Credential, _ time.Duration) probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if res, ok := p.results[cred.ID]; ok {
		return res
	}
	return probe.Result{OK: true, Account: &probe.AccountSummary{AccountID: cred.Login}}
}

func testCredential(id, userID string) vault.Credential {
	return vault.Credential{
		ID:     id,
		UserID: userID,
		Server: "terminal.example.com:443",
		Login:  "10001",
		Secret: "hunter2",
	}
}

// testMonitor wires a monitor against an in-memory database and fakes.
func testMonitor(t *testing.T, creds CredentialSource, prober probe.Prober) (*Monitor, *MonitorStore) {
	t.Helper()

	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ms, err := Setup(context.Background(), db)
	if err != nil {
		t.Fatalf("setup monitor store: %v", err)
	}

	logger := zap.NewNop()
	validator := verify.NewValidator(prober, logger)
	alerts := NewAlertEvaluator(ms, nil, logger)
	m := New(creds, validator, ms, alerts, nil, logger)
	t.Cleanup(m.StopAll)
	return m, ms
}

// idleConfig keeps the ticker loop from firing so tests drive checks
// explicitly through ForceHealthCheck.
func idleConfig() *Config {
	cfg := DefaultConfig()
	cfg.InitialCheckDelay = time.Hour
	cfg.CheckInterval = time.Hour
	return &cfg
}

func TestStartMonitoringSeedsRecords(t *testing.T) {
	creds := newFakeCreds(
		testCredential("cred-a", "user-1"),
		testCredential("cred-b", "user-1"),
		testCredential("cred-c", "user-2"),
	)
	m, _ := testMonitor(t, creds, newFakeProber())

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	records := m.GetAllHealthStatuses("user-1")
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Status != StatusUnknown {
			t.Errorf("record %s: expected unknown status before first check, got %s", rec.CredentialID, rec.Status)
		}
		if rec.UptimePercentage != 100 {
			t.Errorf("record %s: expected 100%% uptime before first check, got %v", rec.CredentialID, rec.UptimePercentage)
		}
	}
	if !m.IsMonitoring("user-1") {
		t.Error("expected user-1 to be monitored")
	}
	if m.IsMonitoring("user-2") {
		t.Error("user-2 was never started")
	}
}

func TestStartMonitoringIdempotent(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, _ := testMonitor(t, creds, newFakeProber())

	first := idleConfig()
	if err := m.StartMonitoring(context.Background(), "user-1", first); err != nil {
		t.Fatalf("first StartMonitoring: %v", err)
	}

	// Second start with a different config is a no-op keeping the
	// original session.
	second := idleConfig()
	second.MaxConsecutiveFailures = 99
	if err := m.StartMonitoring(context.Background(), "user-1", second); err != nil {
		t.Fatalf("second StartMonitoring: %v", err)
	}

	sess := m.session("user-1")
	if sess == nil {
		t.Fatal("session missing")
	}
	if sess.cfg.MaxConsecutiveFailures != first.MaxConsecutiveFailures {
		t.Errorf("expected original config retained, got max failures %d", sess.cfg.MaxConsecutiveFailures)
	}
}

func TestStartMonitoringRejectsInvalidConfig(t *testing.T) {
	m, _ := testMonitor(t, newFakeCreds(), newFakeProber())

	cfg := DefaultConfig()
	cfg.CheckInterval = 0
	if err := m.StartMonitoring(context.Background(), "user-1", &cfg); err == nil {
		t.Fatal("expected error for zero check interval")
	}
	if m.IsMonitoring("user-1") {
		t.Error("no session should exist after rejected start")
	}
}

func TestStartMonitoringListFailure(t *testing.T) {
	creds := newFakeCreds()
	creds.listErr = errors.New("vault locked")
	m, _ := testMonitor(t, creds, newFakeProber())

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err == nil {
		t.Fatal("expected error when credential listing fails")
	}
	if m.IsMonitoring("user-1") {
		t.Error("failed start must not leave a session behind")
	}
}

func TestHealthTransitionsThroughDegradedToError(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	prober := newFakeProber()
	m, _ := testMonitor(t, creds, prober)

	cfg := idleConfig()
	cfg.MaxConsecutiveFailures = 3
	if err := m.StartMonitoring(context.Background(), "user-1", cfg); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	prober.set("cred-a", probe.Result{Kind: probe.KindNetworkError, Message: "connection refused"})

	want := []Status{StatusDegraded, StatusDegraded, StatusError, StatusError}
	for i, expected := range want {
		rec, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a")
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if rec.Status != expected {
			t.Errorf("check %d: expected status %s, got %s", i+1, expected, rec.Status)
		}
		if rec.ConsecutiveFailures != i+1 {
			t.Errorf("check %d: expected %d consecutive failures, got %d", i+1, i+1, rec.ConsecutiveFailures)
		}
		if rec.ErrorMessage == "" {
			t.Errorf("check %d: expected an error message", i+1)
		}
	}

	rec := m.GetHealthStatus("user-1", "cred-a")
	if rec.TotalChecks != 4 || rec.SuccessfulChecks != 0 {
		t.Errorf("expected 4 total / 0 successful, got %d / %d", rec.TotalChecks, rec.SuccessfulChecks)
	}
	if rec.UptimePercentage != 0 {
		t.Errorf("expected 0%% uptime, got %v", rec.UptimePercentage)
	}
}

func TestHealthRecoversAfterSuccess(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	prober := newFakeProber()
	m, _ := testMonitor(t, creds, prober)

	cfg := idleConfig()
	cfg.MaxConsecutiveFailures = 3
	if err := m.StartMonitoring(context.Background(), "user-1", cfg); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	prober.set("cred-a", probe.Result{Kind: probe.KindTimeout, Message: "timed out"})
	for i := 0; i < 3; i++ {
		if _, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a"); err != nil {
			t.Fatalf("failing check %d: %v", i+1, err)
		}
	}

	prober.set("cred-a", probe.Result{OK: true})
	rec, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a")
	if err != nil {
		t.Fatalf("recovering check: %v", err)
	}

	if rec.Status != StatusConnected {
		t.Errorf("expected connected after recovery, got %s", rec.Status)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("expected failure streak reset, got %d", rec.ConsecutiveFailures)
	}
	if rec.ErrorMessage != "" {
		t.Errorf("expected error message cleared, got %q", rec.ErrorMessage)
	}
	if rec.UptimePercentage != 25 {
		t.Errorf("expected 25%% uptime (1/4), got %v", rec.UptimePercentage)
	}
}

func TestForceHealthCheckUnknownCredential(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, ms := testMonitor(t, creds, newFakeProber())

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	rec, err := m.ForceHealthCheck(context.Background(), "user-1", "no-such-cred")
	if err != nil {
		t.Fatalf("ForceHealthCheck: %v", err)
	}
	if rec.Status != StatusError {
		t.Errorf("expected error status for missing credential, got %s", rec.Status)
	}
	if rec.ErrorMessage != "credential not found" {
		t.Errorf("unexpected message %q", rec.ErrorMessage)
	}
	// A missing credential is not a connection failure.
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("expected failure streak untouched, got %d", rec.ConsecutiveFailures)
	}
	// Not counted as a check either: uptime stays at 100% and no alerts
	// fire for a credential that no longer exists.
	if rec.TotalChecks != 0 {
		t.Errorf("expected total checks untouched, got %d", rec.TotalChecks)
	}
	if rec.UptimePercentage != 100 {
		t.Errorf("expected uptime 100, got %.1f", rec.UptimePercentage)
	}
	alerts, err := ms.ListAlerts(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for missing credential, got %d", len(alerts))
	}
}

func TestForceHealthCheckNotMonitoring(t *testing.T) {
	m, _ := testMonitor(t, newFakeCreds(), newFakeProber())

	if _, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a"); !errors.Is(err, ErrNotMonitoring) {
		t.Fatalf("expected ErrNotMonitoring, got %v", err)
	}
}

func TestStopMonitoringIdempotent(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, _ := testMonitor(t, creds, newFakeProber())

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	m.StopMonitoring("user-1")
	if m.IsMonitoring("user-1") {
		t.Error("session should be gone after stop")
	}
	if rec := m.GetHealthStatus("user-1", "cred-a"); rec != nil {
		t.Error("records should be dropped with the session")
	}

	// Second stop and stopping an unknown user are no-ops.
	m.StopMonitoring("user-1")
	m.StopMonitoring("never-started")
}

func TestRestartAfterStopUsesNewConfig(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, _ := testMonitor(t, creds, newFakeProber())

	first := idleConfig()
	if err := m.StartMonitoring(context.Background(), "user-1", first); err != nil {
		t.Fatalf("first start: %v", err)
	}
	m.StopMonitoring("user-1")

	second := idleConfig()
	second.MaxConsecutiveFailures = 7
	if err := m.StartMonitoring(context.Background(), "user-1", second); err != nil {
		t.Fatalf("second start: %v", err)
	}

	sess := m.session("user-1")
	if sess == nil || sess.cfg.MaxConsecutiveFailures != 7 {
		t.Error("restart should apply the new config")
	}
}

func TestHealthRecordPersistsAcrossSessions(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	prober := newFakeProber()
	m, ms := testMonitor(t, creds, prober)

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if _, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a"); err != nil {
		t.Fatalf("ForceHealthCheck: %v", err)
	}
	m.StopMonitoring("user-1")

	persisted, err := ms.Load(context.Background(), "user-1", "cred-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if persisted == nil {
		t.Fatal("expected a persisted record")
	}
	if persisted.TotalChecks != 1 || persisted.Status != StatusConnected {
		t.Errorf("unexpected persisted record: %+v", persisted)
	}

	// A fresh session for the same user resumes from the persisted counters.
	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	rec := m.GetHealthStatus("user-1", "cred-a")
	if rec == nil || rec.TotalChecks != 1 {
		t.Errorf("expected seeded record with 1 check, got %+v", rec)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, _ := testMonitor(t, creds, newFakeProber())

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	rec := m.GetHealthStatus("user-1", "cred-a")
	rec.Status = StatusError
	rec.ConsecutiveFailures = 99

	again := m.GetHealthStatus("user-1", "cred-a")
	if again.Status != StatusUnknown || again.ConsecutiveFailures != 0 {
		t.Error("mutating a returned record must not affect internal state")
	}
}

func TestGetMonitoringStats(t *testing.T) {
	creds := newFakeCreds(
		testCredential("cred-a", "user-1"),
		testCredential("cred-b", "user-1"),
		testCredential("cred-c", "user-1"),
	)
	prober := newFakeProber()
	m, _ := testMonitor(t, creds, prober)

	cfg := idleConfig()
	cfg.MaxConsecutiveFailures = 2
	if err := m.StartMonitoring(context.Background(), "user-1", cfg); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	// cred-a healthy, cred-b degraded (1 failure), cred-c failed (2 failures).
	prober.set("cred-b", probe.Result{Kind: probe.KindTimeout, Message: "timed out"})
	prober.set("cred-c", probe.Result{Kind: probe.KindServerUnreachable, Message: "unreachable"})

	checks := []struct {
		credID string
		times  int
	}{
		{"cred-a", 1},
		{"cred-b", 1},
		{"cred-c", 2},
	}
	for _, c := range checks {
		for i := 0; i < c.times; i++ {
			if _, err := m.ForceHealthCheck(context.Background(), "user-1", c.credID); err != nil {
				t.Fatalf("check %s: %v", c.credID, err)
			}
		}
	}

	stats := m.GetMonitoringStats("user-1")
	if stats.TotalCredentials != 3 {
		t.Errorf("expected 3 credentials, got %d", stats.TotalCredentials)
	}
	if stats.HealthyCount != 1 || stats.DegradedCount != 1 || stats.FailedCount != 1 {
		t.Errorf("unexpected counts: healthy=%d degraded=%d failed=%d",
			stats.HealthyCount, stats.DegradedCount, stats.FailedCount)
	}

	empty := m.GetMonitoringStats("no-such-user")
	if empty.TotalCredentials != 0 || empty.AvgUptimePercentage != 0 {
		t.Errorf("expected zero stats for unknown user, got %+v", empty)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, _ := testMonitor(t, creds, newFakeProber())

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	var mu sync.Mutex
	var got []HealthRecord
	unsubscribe := m.Subscribe("user-1", func(rec HealthRecord) {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	})

	if _, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a"); err != nil {
		t.Fatalf("ForceHealthCheck: %v", err)
	}

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 update, got %d", n)
	}

	unsubscribe()
	if _, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a"); err != nil {
		t.Fatalf("ForceHealthCheck: %v", err)
	}
	mu.Lock()
	n = len(got)
	mu.Unlock()
	if n != 1 {
		t.Errorf("expected no update after unsubscribe, got %d", n)
	}
}

func TestRealTimeUpdatesDisabled(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, _ := testMonitor(t, creds, newFakeProber())

	cfg := idleConfig()
	cfg.EnableRealTimeUpdates = false
	if err := m.StartMonitoring(context.Background(), "user-1", cfg); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	called := false
	m.Subscribe("user-1", func(HealthRecord) { called = true })

	if _, err := m.ForceHealthCheck(context.Background(), "user-1", "cred-a"); err != nil {
		t.Fatalf("ForceHealthCheck: %v", err)
	}
	if called {
		t.Error("subscribers must not fire when real-time updates are disabled")
	}
}

func TestTickerLoopRunsInitialCheck(t *testing.T) {
	creds := newFakeCreds(testCredential("cred-a", "user-1"))
	m, _ := testMonitor(t, creds, newFakeProber())

	updates := make(chan HealthRecord, 8)
	m.Subscribe("user-1", func(rec HealthRecord) { updates <- rec })

	cfg := idleConfig()
	cfg.InitialCheckDelay = 10 * time.Millisecond
	if err := m.StartMonitoring(context.Background(), "user-1", cfg); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	select {
	case rec := <-updates:
		if rec.Status != StatusConnected {
			t.Errorf("expected connected after initial check, got %s", rec.Status)
		}
		if rec.TotalChecks != 1 {
			t.Errorf("expected 1 check, got %d", rec.TotalChecks)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("initial check never ran")
	}
}

func TestRemovedCredentialIsPruned(t *testing.T) {
	creds := newFakeCreds(
		testCredential("cred-a", "user-1"),
		testCredential("cred-b", "user-1"),
	)
	prober := newFakeProber()
	m, _ := testMonitor(t, creds, prober)

	if err := m.StartMonitoring(context.Background(), "user-1", idleConfig()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	creds.remove("cred-b")
	m.performHealthCheck(context.Background(), "user-1", m.session("user-1"))

	records := m.GetAllHealthStatuses("user-1")
	if len(records) != 1 || records[0].CredentialID != "cred-a" {
		t.Fatalf("expected only cred-a to remain, got %+v", records)
	}
}
