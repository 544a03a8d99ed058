package vault

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/server"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// putCredentialRequest is the JSON body for POST /credentials.
type putCredentialRequest struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	Note     string `json:"note,omitempty"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
		{Method: "GET", Path: "/credentials", Handler: m.handleListCredentials},
		{Method: "POST", Path: "/credentials", Handler: m.handlePutCredential},
		{Method: "DELETE", Path: "/credentials/{address}", Handler: m.handleDeleteCredential},
	}
}

// handleStatus reports the lock state.
//
//	@Summary		Vault status
//	@Tags			vault
//	@Produce		json
//	@Success		200 {object} map[string]any
//	@Router			/vault/status [get]
func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"state": m.State()}
	if m.store != nil {
		if n, err := m.store.Count(r.Context()); err == nil {
			resp["credentials"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListCredentials lists stored credentials without secrets.
//
//	@Summary		List credentials
//	@Tags			vault
//	@Produce		json
//	@Success		200 {array} Credential
//	@Router			/vault/credentials [get]
func (m *Module) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		server.NoStore(w, "vault", r.URL.Path)
		return
	}
	creds, err := m.List(r.Context())
	if err != nil {
		m.logger.Warn("failed to list credentials", zap.Error(err))
		server.InternalError(w, "failed to list credentials", r.URL.Path)
		return
	}
	if creds == nil {
		creds = []Credential{}
	}
	writeJSON(w, http.StatusOK, creds)
}

// handlePutCredential stores a credential for an address.
//
//	@Summary		Store credential
//	@Tags			vault
//	@Accept			json
//	@Produce		json
//	@Param			body body putCredentialRequest true "Credential"
//	@Success		201 {object} Credential
//	@Success		200 {object} Credential
//	@Failure		400 {object} server.Problem
//	@Failure		503 {object} server.Problem
//	@Router			/vault/credentials [post]
func (m *Module) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	var req putCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	c, created, err := m.Put(r.Context(), req.Address, req.Username, req.Password, req.Note)
	switch {
	case errors.Is(err, ErrInvalid):
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	case errors.Is(err, ErrSealed):
		server.Unavailable(w, "vault is sealed; configure plugins.vault.passphrase", r.URL.Path)
		return
	case err != nil:
		m.logger.Warn("failed to store credential", zap.String("address", req.Address), zap.Error(err))
		server.InternalError(w, "failed to store credential", r.URL.Path)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

// handleDeleteCredential removes the credential for an address.
//
//	@Summary		Delete credential
//	@Tags			vault
//	@Param			address path string true "Device address"
//	@Success		204
//	@Failure		404 {object} server.Problem
//	@Router			/vault/credentials/{address} [delete]
func (m *Module) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		server.NoStore(w, "vault", r.URL.Path)
		return
	}
	address := r.PathValue("address")
	err := m.Delete(r.Context(), address)
	if errors.Is(err, ErrNotFound) {
		server.NotFound(w, "no credential for "+address, r.URL.Path)
		return
	}
	if err != nil {
		m.logger.Warn("failed to delete credential", zap.String("address", address), zap.Error(err))
		server.InternalError(w, "failed to delete credential", r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
