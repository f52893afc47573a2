// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/efchatnet/efconvo/backend/chat"
	"github.com/efchatnet/efconvo/backend/middleware"
	"github.com/efchatnet/efconvo/backend/models"
)

// ConversationHandler handles conversation directory and inbox requests
type ConversationHandler struct {
	svc *chat.Service
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(svc *chat.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// OpenDirectRequest represents a request to open a DM conversation
type OpenDirectRequest struct {
	PeerID string `json:"peer_id"`
}

// OpenDirect resolves or creates the DM conversation with a peer and
// returns it with its history
// POST /api/chat/conversations/direct
func (h *ConversationHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req OpenDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	conv, history, err := h.svc.OpenDirect(r.Context(), userID, req.PeerID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     history,
	})
}

// OpenTeamRequest represents a request to open a team conversation
type OpenTeamRequest struct {
	TeamID string `json:"team_id"`
}

// OpenTeam resolves or creates the conversation attached to a team
// POST /api/chat/conversations/team
func (h *ConversationHandler) OpenTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req OpenTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	conv, history, err := h.svc.OpenTeam(r.Context(), userID, req.TeamID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     history,
	})
}

// Inbox lists the user's conversations with their latest message
// GET /api/chat/inbox
func (h *ConversationHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entries, err := h.svc.Inbox(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": entries,
		"count":         len(entries),
	})
}

// SendInvitationRequest represents an invitation to chat
type SendInvitationRequest struct {
	ToID           string `json:"to_id"`
	ConversationID string `json:"conversation_id"`
}

// SendInvitation delivers an out-of-band invitation event to the
// recipient's private channel
// POST /api/chat/invitations
func (h *ConversationHandler) SendInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SendInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.ToID == "" {
		http.Error(w, "to_id is required", http.StatusBadRequest)
		return
	}

	h.svc.SendInvitation(r.Context(), models.Invitation{
		FromID:         userID,
		ToID:           req.ToID,
		ConversationID: req.ConversationID,
	})

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "sent",
	})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondError maps service errors to HTTP statuses. Validation errors
// carry their message inline so the UI can show it next to the input.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrUnauthorized):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, chat.ErrConversationResolution):
		http.Error(w, "Failed to resolve conversation", http.StatusInternalServerError)
	default:
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
	}
}
