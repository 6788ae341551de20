package vault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/store"
)

// ErrLocked is returned when the vault is used before Unlock succeeds.
var ErrLocked = errors.New("vault is locked")

// ErrBadPassphrase is returned when Unlock is called with a passphrase that
// does not match the stored verification blob.
var ErrBadPassphrase = errors.New("vault passphrase does not match")

// Vault stores broker credentials with their secrets sealed under a
// per-install data encryption key.
type Vault struct {
	store  *VaultStore
	logger *zap.Logger

	mu  sync.RWMutex
	dek []byte // nil while locked
}

// New creates the vault and applies its schema migrations.
func New(ctx context.Context, db *store.SQLiteStore, logger *zap.Logger) (*Vault, error) {
	if err := db.Migrate(ctx, "vault", migrations()); err != nil {
		return nil, fmt.Errorf("vault migrations: %w", err)
	}
	return &Vault{
		store:  NewVaultStore(db.DB()),
		logger: logger,
	}, nil
}

// Unlock derives the master key from the passphrase and unwraps the data
// encryption key. On first use it initializes the master key material.
func (v *Vault) Unlock(ctx context.Context, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("vault passphrase must not be empty")
	}

	rec, err := v.store.GetMasterRecord(ctx)
	if err != nil {
		return err
	}

	if rec == nil {
		return v.initialize(ctx, passphrase)
	}

	kek := deriveKEK(passphrase, rec.Salt)
	defer zeroBytes(kek)

	if !verifyKEK(kek, rec.VerificationBlob) {
		return ErrBadPassphrase
	}

	dek, err := open(kek, rec.WrappedDEK)
	if err != nil {
		return fmt.Errorf("unwrap DEK: %w", err)
	}

	v.mu.Lock()
	v.dek = dek
	v.mu.Unlock()

	v.logger.Info("vault unlocked")
	return nil
}

// initialize generates fresh key material on first unlock.
func (v *Vault) initialize(ctx context.Context, passphrase string) error {
	salt, err := generateSalt()
	if err != nil {
		return err
	}
	dek, err := generateDEK()
	if err != nil {
		return err
	}

	kek := deriveKEK(passphrase, salt)
	defer zeroBytes(kek)

	wrapped, err := seal(kek, dek)
	if err != nil {
		return fmt.Errorf("wrap DEK: %w", err)
	}
	verification, err := seal(kek, verificationMagic)
	if err != nil {
		return fmt.Errorf("create verification blob: %w", err)
	}

	if err := v.store.InsertMasterRecord(ctx, salt, wrapped, verification); err != nil {
		return err
	}

	v.mu.Lock()
	v.dek = dek
	v.mu.Unlock()

	v.logger.Info("vault initialized")
	return nil
}

// Lock discards the in-memory data encryption key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	zeroBytes(v.dek)
	v.dek = nil
}

// Unlocked reports whether the vault can currently decrypt secrets.
func (v *Vault) Unlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dek != nil
}

// Put validates, seals, and stores a new credential. The assigned ID is
// returned via the secret-free metadata.
func (v *Vault) Put(ctx context.Context, cred Credential) (*CredentialMeta, error) {
	if err := validateCredential(cred); err != nil {
		return nil, err
	}

	dek, err := v.key()
	if err != nil {
		return nil, err
	}

	sealed, err := seal(dek, []byte(cred.Secret))
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	now := time.Now().UTC()
	row := &credentialRow{
		ID:           uuid.NewString(),
		UserID:       cred.UserID,
		Server:       cred.Server,
		Login:        cred.Login,
		SealedSecret: sealed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := v.store.InsertCredential(ctx, row); err != nil {
		return nil, err
	}

	v.logger.Info("credential stored",
		zap.String("credential_id", row.ID),
		zap.String("user_id", row.UserID),
		zap.String("server", row.Server),
	)

	meta := rowCredential(row, "").Meta()
	return &meta, nil
}

// Get returns one decrypted credential scoped to a user.
// Returns nil, nil when the credential does not exist.
func (v *Vault) Get(ctx context.Context, userID, id string) (*Credential, error) {
	dek, err := v.key()
	if err != nil {
		return nil, err
	}

	row, err := v.store.GetCredential(ctx, userID, id)
	if err != nil || row == nil {
		return nil, err
	}

	secret, err := open(dek, row.SealedSecret)
	if err != nil {
		return nil, fmt.Errorf("unseal secret for credential %s: %w", row.ID, err)
	}

	cred := rowCredential(row, string(secret))
	return &cred, nil
}

// List returns all decrypted credentials for a user, oldest first.
func (v *Vault) List(ctx context.Context, userID string) ([]Credential, error) {
	dek, err := v.key()
	if err != nil {
		return nil, err
	}

	rows, err := v.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := make([]Credential, 0, len(rows))
	for i := range rows {
		secret, err := open(dek, rows[i].SealedSecret)
		if err != nil {
			return nil, fmt.Errorf("unseal secret for credential %s: %w", rows[i].ID, err)
		}
		creds = append(creds, rowCredential(&rows[i], string(secret)))
	}
	return creds, nil
}

// ListMeta returns secret-free metadata for all of a user's credentials.
// Works while locked since no decryption is required.
func (v *Vault) ListMeta(ctx context.Context, userID string) ([]CredentialMeta, error) {
	rows, err := v.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	metas := make([]CredentialMeta, 0, len(rows))
	for i := range rows {
		metas = append(metas, rowCredential(&rows[i], "").Meta())
	}
	return metas, nil
}

// Delete removes a credential. Returns true if it existed.
func (v *Vault) Delete(ctx context.Context, userID, id string) (bool, error) {
	deleted, err := v.store.DeleteCredential(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if deleted {
		v.logger.Info("credential deleted",
			zap.String("credential_id", id),
			zap.String("user_id", userID),
		)
	}
	return deleted, nil
}

// key returns a copy of the DEK or ErrLocked. Handing out a copy keeps
// readers mid-decrypt working even if Lock zeroes the vault's own slice.
func (v *Vault) key() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return nil, ErrLocked
	}
	k := make([]byte, len(v.dek))
	copy(k, v.dek)
	return k, nil
}

func rowCredential(row *credentialRow, secret string) Credential {
	return Credential{
		ID:        row.ID,
		UserID:    row.UserID,
		Server:    row.Server,
		Login:     row.Login,
		Secret:    secret,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// validateCredential enforces required fields before storage.
func validateCredential(cred Credential) error {
	if strings.TrimSpace(cred.UserID) == "" {
		return fmt.Errorf("credential user_id must not be empty")
	}
	if strings.TrimSpace(cred.Login) == "" {
		return fmt.Errorf("credential login must not be empty")
	}
	if cred.Secret == "" {
		return fmt.Errorf("credential secret must not be empty")
	}
	if _, _, err := net.SplitHostPort(cred.Server); err != nil {
		return fmt.Errorf("credential server must be host:port: %w", err)
	}
	return nil
}
