package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/settings"
)

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	present, masked, err := s.settings.Credential(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "credential_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"present": present,
		"masked":  masked,
	})
}

type setAPIKeyRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req setAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}
	s.settings.SetAPIKey(strings.TrimSpace(req.Key))
	s.aggregator.Notify()
	respondJSON(w, http.StatusOK, map[string]any{"saved": true})
}

func (s *Server) handleTestAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.TestAPIKey(r.Context()); err != nil {
		if errors.Is(err, settings.ErrNoAPIKey) {
			respondError(w, http.StatusBadRequest, "no_api_key", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.settings.ManagementGroups(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "groups_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type groupRequest struct {
	Group string `json:"group"`
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Group) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "group is required")
		return
	}
	s.settings.AddManagementGroup(strings.TrimSpace(req.Group))
	s.aggregator.Notify()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// Removing an absent group is a no-op, matching task delete semantics.
	s.settings.RemoveManagementGroup(strings.TrimSpace(req.Group))
	s.aggregator.Notify()
	w.WriteHeader(http.StatusNoContent)
}
