package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/probe"
	"github.com/tradervane/brokerpulse/internal/vault"
)

// DefaultTimeout bounds a single probe when the caller does not supply one.
const DefaultTimeout = 30 * time.Second

// ValidationResult is the outcome of one Validate call. Failed validation is
// data, not an error: the UI renders "credential is wrong" as a normal state.
type ValidationResult struct {
	IsValid      bool                  `json:"is_valid"`
	Account      *probe.AccountSummary `json:"account,omitempty"`
	ErrorKind    probe.ErrorKind       `json:"error_kind,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	AttemptsUsed int                   `json:"attempts_used"`
	TotalElapsed time.Duration         `json:"total_elapsed"`
}

// Validator drives the retry policy around a prober. A single Validate call
// is sequential; independent calls may run concurrently.
type Validator struct {
	prober probe.Prober
	logger *zap.Logger
}

// NewValidator creates a validator backed by the given prober.
func NewValidator(prober probe.Prober, logger *zap.Logger) *Validator {
	return &Validator{prober: prober, logger: logger}
}

// Validate probes the credential until it succeeds, the retry policy gives
// up, or the context is cancelled. The error return is reserved for contract
// violations (empty credential, invalid config) and context cancellation;
// every probe failure surfaces inside the result.
func (v *Validator) Validate(ctx context.Context, cred vault.Credential, cfg RetryConfig, timeout time.Duration) (*ValidationResult, error) {
	if cred.Server == "" || cred.Login == "" {
		return nil, fmt.Errorf("validate: credential server and login must be set")
	}
	policy, err := NewPolicy(cfg)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		res := v.prober.Probe(ctx, cred, timeout)

		if res.OK {
			v.logger.Debug("credential validated",
				zap.String("credential_id", cred.ID),
				zap.Int("attempts", attempt),
				zap.Duration("latency", res.Latency),
			)
			return &ValidationResult{
				IsValid:      true,
				Account:      res.Account,
				AttemptsUsed: attempt,
				TotalElapsed: time.Since(start),
			}, nil
		}

		if !policy.ShouldRetry(attempt, res.Kind) {
			v.logger.Debug("credential validation failed",
				zap.String("credential_id", cred.ID),
				zap.String("error_kind", string(res.Kind)),
				zap.Int("attempts", attempt),
			)
			return &ValidationResult{
				IsValid:      false,
				ErrorKind:    res.Kind,
				ErrorMessage: res.Message,
				AttemptsUsed: attempt,
				TotalElapsed: time.Since(start),
			}, nil
		}

		delay := policy.DelayFor(attempt)
		v.logger.Debug("retrying credential validation",
			zap.String("credential_id", cred.ID),
			zap.String("error_kind", string(res.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
