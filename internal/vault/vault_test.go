package vault

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/store"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	v, err := New(context.Background(), db, zap.NewNop())
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

func TestVault_LockedRejectsAccess(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.Put(ctx, Credential{
		UserID: "u1", Server: "broker.example.com:443", Login: "12345", Secret: "pw",
	})
	if !errors.Is(err, ErrLocked) {
		t.Errorf("Put while locked = %v, want ErrLocked", err)
	}

	if _, err := v.List(ctx, "u1"); !errors.Is(err, ErrLocked) {
		t.Errorf("List while locked = %v, want ErrLocked", err)
	}
}

func TestVault_KeyCopySurvivesLock(t *testing.T) {
	v := newTestVault(t)

	if err := v.Unlock(context.Background(), "correct horse"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	k, err := v.key()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	v.Lock()

	allZero := true
	for _, b := range k {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("key copy was zeroed by Lock")
	}
}

func TestVault_PutGetRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	if err := v.Unlock(ctx, "passphrase"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	meta, err := v.Put(ctx, Credential{
		UserID: "u1", Server: "broker.example.com:443", Login: "12345", Secret: "hunter2",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if meta.ID == "" {
		t.Fatal("Put returned empty credential ID")
	}

	got, err := v.Get(ctx, "u1", meta.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for stored credential")
	}
	if got.Secret != "hunter2" {
		t.Errorf("Secret = %q, want %q", got.Secret, "hunter2")
	}
	if got.Server != "broker.example.com:443" || got.Login != "12345" {
		t.Errorf("unexpected credential fields: %+v", got)
	}
}

func TestVault_GetScopedToUser(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	if err := v.Unlock(ctx, "passphrase"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	meta, err := v.Put(ctx, Credential{
		UserID: "u1", Server: "broker.example.com:443", Login: "12345", Secret: "pw",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := v.Get(ctx, "u2", meta.ID)
	if err != nil {
		t.Fatalf("Get as other user: %v", err)
	}
	if got != nil {
		t.Error("credential visible to a different user")
	}
}

func TestVault_WrongPassphrase(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	if err := v.Unlock(ctx, "first"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	v.Lock()

	if err := v.Unlock(ctx, "second"); !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("Unlock with wrong passphrase = %v, want ErrBadPassphrase", err)
	}
	if v.Unlocked() {
		t.Error("vault unlocked after failed passphrase")
	}
}

func TestVault_ListMetaOmitsSecrets(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	if err := v.Unlock(ctx, "passphrase"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := v.Put(ctx, Credential{
		UserID: "u1", Server: "broker.example.com:443", Login: "12345", Secret: "pw",
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	metas, err := v.ListMeta(ctx, "u1")
	if err != nil {
		t.Fatalf("ListMeta: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("len(metas) = %d, want 1", len(metas))
	}
}

func TestVault_Delete(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	if err := v.Unlock(ctx, "passphrase"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	meta, err := v.Put(ctx, Credential{
		UserID: "u1", Server: "broker.example.com:443", Login: "12345", Secret: "pw",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	deleted, err := v.Delete(ctx, "u1", meta.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", deleted, err)
	}

	deleted, err = v.Delete(ctx, "u1", meta.ID)
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if deleted {
		t.Error("second Delete reported a deletion")
	}
}

func TestValidateCredential(t *testing.T) {
	tests := []struct {
		name    string
		cred    Credential
		wantErr bool
	}{
		{"valid", Credential{UserID: "u", Server: "h:1", Login: "l", Secret: "s"}, false},
		{"missing user", Credential{Server: "h:1", Login: "l", Secret: "s"}, true},
		{"missing login", Credential{UserID: "u", Server: "h:1", Secret: "s"}, true},
		{"missing secret", Credential{UserID: "u", Server: "h:1", Login: "l"}, true},
		{"server without port", Credential{UserID: "u", Server: "h", Login: "l", Secret: "s"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCredential(tt.cred)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCredential = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
