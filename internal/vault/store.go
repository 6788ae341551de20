package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// VaultStore provides database access for the credential vault.
type VaultStore struct {
	db *sql.DB
}

// NewVaultStore creates a new VaultStore wrapping the given database connection.
func NewVaultStore(db *sql.DB) *VaultStore {
	return &VaultStore{db: db}
}

// --- Master key ---

// GetMasterRecord returns the singleton master key record, or nil if the
// vault has never been initialized.
func (s *VaultStore) GetMasterRecord(ctx context.Context) (*masterRecord, error) {
	var rec masterRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT salt, wrapped_dek, verification_blob, created_at, updated_at
		FROM vault_master WHERE id = 1`,
	).Scan(&rec.Salt, &rec.WrappedDEK, &rec.VerificationBlob, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get master record: %w", err)
	}
	return &rec, nil
}

// InsertMasterRecord writes the singleton master key record on first unlock.
func (s *VaultStore) InsertMasterRecord(ctx context.Context, salt, wrappedDEK, verification []byte) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_master (id, salt, wrapped_dek, verification_blob, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)`,
		salt, wrappedDEK, verification, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert master record: %w", err)
	}
	return nil
}

// --- Credentials ---

// InsertCredential inserts a new credential row.
func (s *VaultStore) InsertCredential(ctx context.Context, row *credentialRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_credentials (id, user_id, server, login, sealed_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.UserID, row.Server, row.Login, row.SealedSecret,
		row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential returns one credential row scoped to a user.
// Returns nil, nil if not found.
func (s *VaultStore) GetCredential(ctx context.Context, userID, id string) (*credentialRow, error) {
	var row credentialRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, server, login, sealed_secret, created_at, updated_at
		FROM vault_credentials WHERE user_id = ? AND id = ?`,
		userID, id,
	).Scan(&row.ID, &row.UserID, &row.Server, &row.Login, &row.SealedSecret,
		&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &row, nil
}

// ListCredentials returns all credential rows for a user, oldest first.
func (s *VaultStore) ListCredentials(ctx context.Context, userID string) ([]credentialRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, server, login, sealed_secret, created_at, updated_at
		FROM vault_credentials WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []credentialRow
	for rows.Next() {
		var row credentialRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.Server, &row.Login,
			&row.SealedSecret, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteCredential removes a credential row scoped to a user.
// Returns true if a row was deleted.
func (s *VaultStore) DeleteCredential(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM vault_credentials WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	if err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credential rows affected: %w", err)
	}
	return n > 0, nil
}
