// Package vault stores broker terminal credentials encrypted at rest.
package vault

import "time"

// Credential identifies one broker terminal account connection.
// Secret is only populated on reads through Get/List; it never appears
// in logs, events, or API responses.
type Credential struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Server    string    `json:"server"` // terminal address, host:port
	Login     string    `json:"login"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta is the secret-free projection of a credential, safe for handlers
// and broadcasts.
func (c Credential) Meta() CredentialMeta {
	return CredentialMeta{
		ID:        c.ID,
		UserID:    c.UserID,
		Server:    c.Server,
		Login:     c.Login,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// CredentialMeta is the public-facing credential metadata (never contains secrets).
type CredentialMeta struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Server    string    `json:"server"`
	Login     string    `json:"login"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// credentialRow is the database representation: the secret is stored as an
// AES-256-GCM sealed blob, everything else in plaintext columns.
type credentialRow struct {
	ID           string
	UserID       string
	Server       string
	Login        string
	SealedSecret []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// masterRecord holds the per-install key material: the Argon2id salt, the
// wrapped data encryption key, and a verification blob for passphrase checks.
type masterRecord struct {
	Salt             []byte
	WrappedDEK       []byte
	VerificationBlob []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
