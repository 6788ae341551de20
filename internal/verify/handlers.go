package verify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/server"
	"github.com/tradervane/brokerpulse/internal/vault"
)

// CredentialGetter looks up a stored credential. Satisfied by *vault.Vault.
type CredentialGetter interface {
	Get(ctx context.Context, userID, id string) (*vault.Credential, error)
}

// Handler exposes interactive credential validation.
type Handler struct {
	validator *Validator
	creds     CredentialGetter
	logger    *zap.Logger
}

// NewHandler creates the validation HTTP handler.
func NewHandler(validator *Validator, creds CredentialGetter, logger *zap.Logger) *Handler {
	return &Handler{validator: validator, creds: creds, logger: logger}
}

// RegisterRoutes mounts the validation route on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/validate", h.handleValidate)
}

// validateRequest names either a stored credential (user_id +
// credential_id) or an inline one (server + login + secret), typically
// during account setup before the credential is saved.
type validateRequest struct {
	UserID       string `json:"user_id,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`

	Server string `json:"server,omitempty"`
	Login  string `json:"login,omitempty"`
	Secret string `json:"secret,omitempty"`

	MaxAttempts int   `json:"max_attempts,omitempty"`
	TimeoutMs   int64 `json:"timeout_ms,omitempty"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		verifyWriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cred, status, detail := h.resolveCredential(r.Context(), req)
	if detail != "" {
		verifyWriteError(w, status, detail)
		return
	}

	cfg := DefaultRetryConfig()
	if req.MaxAttempts > 0 {
		cfg.MaxAttempts = req.MaxAttempts
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	result, err := h.validator.Validate(r.Context(), *cred, cfg, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away mid-validation.
			return
		}
		h.logger.Warn("validation request failed",
			zap.String("credential_id", req.CredentialID), zap.Error(err))
		verifyWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	verifyWriteJSON(w, http.StatusOK, result)
}

func (h *Handler) resolveCredential(ctx context.Context, req validateRequest) (*vault.Credential, int, string) {
	if req.CredentialID != "" {
		if req.UserID == "" {
			return nil, http.StatusBadRequest, "user_id is required with credential_id"
		}
		cred, err := h.creds.Get(ctx, req.UserID, req.CredentialID)
		if err != nil {
			if errors.Is(err, vault.ErrLocked) {
				return nil, http.StatusServiceUnavailable, "vault is locked"
			}
			h.logger.Warn("failed to load credential for validation",
				zap.String("credential_id", req.CredentialID), zap.Error(err))
			return nil, http.StatusInternalServerError, "failed to load credential"
		}
		if cred == nil {
			return nil, http.StatusNotFound, "credential not found"
		}
		return cred, 0, ""
	}

	if req.Server == "" || req.Login == "" {
		return nil, http.StatusBadRequest, "either credential_id or server and login are required"
	}
	return &vault.Credential{
		UserID: req.UserID,
		Server: req.Server,
		Login:  req.Login,
		Secret: req.Secret,
	}, 0, ""
}

func verifyWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func verifyWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   server.ProblemTypeFor(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
