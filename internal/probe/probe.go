// Package probe defines the broker terminal probing capability: a single
// network attempt to verify a credential against its terminal.
package probe

import (
	"context"
	"time"

	"github.com/tradervane/brokerpulse/internal/vault"
)

// ErrorKind classifies a failed probe. The set is closed so retry and
// alerting logic can switch on it exhaustively.
type ErrorKind string

const (
	KindNetworkError       ErrorKind = "network_error"
	KindTimeout            ErrorKind = "timeout"
	KindServerUnreachable  ErrorKind = "server_unreachable"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindUnknown            ErrorKind = "unknown"
)

// AccountSummary is the account state reported by the terminal on a
// successful login check.
type AccountSummary struct {
	AccountID string  `json:"account_id"`
	Balance   float64 `json:"balance"`
	Equity    float64 `json:"equity"`
	Currency  string  `json:"currency"`
	Leverage  int     `json:"leverage"`
}

// Result is the outcome of one probe attempt. A failed probe is an
// expected outcome, not an error: OK is false and Kind/Message describe it.
type Result struct {
	OK      bool
	Account *AccountSummary
	Kind    ErrorKind
	Message string
	Latency time.Duration
}

// Prober performs a single verification attempt for a credential.
// Implementations must honor the timeout and never retry internally;
// retrying is the validator's concern.
type Prober interface {
	Probe(ctx context.Context, cred vault.Credential, timeout time.Duration) Result
}
