package vault

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/server"
)

// Handler exposes credential management over HTTP. Responses only ever
// carry CredentialMeta; secrets stay inside the vault.
type Handler struct {
	vault  *Vault
	logger *zap.Logger
}

// NewHandler creates the credential HTTP handler.
func NewHandler(vault *Vault, logger *zap.Logger) *Handler {
	return &Handler{vault: vault, logger: logger}
}

// RegisterRoutes mounts the credential routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/credentials/{user_id}", h.handleCreate)
	mux.HandleFunc("GET /api/v1/credentials/{user_id}", h.handleList)
	mux.HandleFunc("DELETE /api/v1/credentials/{user_id}/{credential_id}", h.handleDelete)
}

type createCredentialRequest struct {
	Server string `json:"server"`
	Login  string `json:"login"`
	Secret string `json:"secret"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		vaultWriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		vaultWriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	meta, err := h.vault.Put(r.Context(), Credential{
		UserID: userID,
		Server: req.Server,
		Login:  req.Login,
		Secret: req.Secret,
	})
	if err != nil {
		if errors.Is(err, ErrLocked) {
			vaultWriteError(w, http.StatusServiceUnavailable, "vault is locked")
			return
		}
		vaultWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	vaultWriteJSON(w, http.StatusCreated, meta)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		vaultWriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	metas, err := h.vault.ListMeta(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			vaultWriteError(w, http.StatusServiceUnavailable, "vault is locked")
			return
		}
		h.logger.Warn("failed to list credentials",
			zap.String("user_id", userID), zap.Error(err))
		vaultWriteError(w, http.StatusInternalServerError, "failed to list credentials")
		return
	}
	if metas == nil {
		metas = []CredentialMeta{}
	}
	vaultWriteJSON(w, http.StatusOK, metas)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	credentialID := r.PathValue("credential_id")
	if userID == "" || credentialID == "" {
		vaultWriteError(w, http.StatusBadRequest, "user_id and credential_id are required")
		return
	}

	deleted, err := h.vault.Delete(r.Context(), userID, credentialID)
	if err != nil {
		h.logger.Warn("failed to delete credential",
			zap.String("user_id", userID),
			zap.String("credential_id", credentialID),
			zap.Error(err))
		vaultWriteError(w, http.StatusInternalServerError, "failed to delete credential")
		return
	}
	if !deleted {
		vaultWriteError(w, http.StatusNotFound, "credential not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func vaultWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func vaultWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   server.ProblemTypeFor(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
