package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xcord/hub/pkg/events"
	"github.com/xcord/hub/pkg/federation"
)

// Call-home surface. Instance containers reach these two routes with
// the hub endpoint baked into their config document.

type exchangeRequest struct {
	Domain         string `json:"domain"`
	BootstrapToken string `json:"bootstrap_token"`
}

type exchangeResponse struct {
	Token string `json:"token"`
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	InstanceID int64  `json:"instance_id"`
	Domain     string `json:"domain"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// handleExchange trades a bootstrap token for a long-lived federation
// token. Every refusal is the same 401; the reasons live in hub logs
// where the caller cannot read them.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Domain == "" || req.BootstrapToken == "" {
		respondError(w, http.StatusBadRequest, "domain and bootstrap_token are required")
		return
	}

	token, err := s.deps.Federation.Exchange(r.Context(), req.Domain, req.BootstrapToken)
	if errors.Is(err, federation.ErrExchangeDenied) {
		respondError(w, http.StatusUnauthorized, "exchange denied")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "exchange failed")
		return
	}

	// Announce the mint on the event stream. The message names the
	// domain only; the token itself never leaves this response.
	if inst, err := s.deps.Store.GetLiveInstanceByDomain(r.Context(), req.Domain); err == nil {
		s.deps.Broker.Publish(events.NewInstanceEvent(events.EventTokenIssued, inst.ID,
			req.Domain+" exchanged its bootstrap token"))
	}

	respondJSON(w, http.StatusOK, exchangeResponse{Token: token})
}

// handleRevoke invalidates a presented federation token. The caller
// proves possession by sending the token itself; nothing else
// identifies a token from outside. The instance recovers by
// restarting, which renders a fresh bootstrap token to exchange.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	row, err := s.deps.Federation.Validate(r.Context(), req.Token)
	if errors.Is(err, federation.ErrTokenInvalid) {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "revocation failed")
		return
	}

	if err := s.deps.Federation.Revoke(r.Context(), row.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "revocation failed")
		return
	}

	s.deps.Broker.Publish(events.NewInstanceEvent(events.EventTokenRevoked,
		row.InstanceID, "federation token revoked"))
	respondJSON(w, http.StatusOK, map[string]interface{}{"revoked": true})
}

// handleValidate confirms a federation token and names its instance,
// used by sibling services authenticating instance-to-instance calls.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	row, err := s.deps.Federation.Validate(r.Context(), req.Token)
	if errors.Is(err, federation.ErrTokenInvalid) {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	inst, err := s.deps.Store.GetInstance(r.Context(), row.InstanceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	respondJSON(w, http.StatusOK, validateResponse{
		InstanceID: inst.ID,
		Domain:     inst.Domain,
	})
}
