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
	"net/http"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efconvo/backend/chat"
	"github.com/efchatnet/efconvo/backend/middleware"
)

// PresenceHandler serves presence and typing state. Updates are
// best-effort: failures degrade silently because the state self-heals
// through expiry.
type PresenceHandler struct {
	svc *chat.Service
}

func NewPresenceHandler(svc *chat.Service) *PresenceHandler {
	return &PresenceHandler{svc: svc}
}

// GetPresence lists who is currently viewing a conversation
// GET /api/chat/conversations/{conversationId}/presence
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	entries, err := h.svc.Presence(r.Context(), vars["conversationId"])
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"participants": entries,
		"count":        len(entries),
	})
}

// Heartbeat extends the caller's presence deadline
// POST /api/chat/conversations/{conversationId}/presence/heartbeat
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	h.svc.Heartbeat(r.Context(), vars["conversationId"], userID)
	w.WriteHeader(http.StatusNoContent)
}

// SetTyping sets or clears the caller's typing flag
// POST /api/chat/conversations/{conversationId}/typing
func (h *PresenceHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	h.svc.SetTyping(r.Context(), vars["conversationId"], userID, req.Typing)
	w.WriteHeader(http.StatusNoContent)
}

// GetTyping lists who is currently typing in a conversation
// GET /api/chat/conversations/{conversationId}/typing
func (h *PresenceHandler) GetTyping(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	typing, err := h.svc.CurrentTyping(r.Context(), vars["conversationId"])
	if err != nil {
		respondError(w, err)
		return
	}
	if typing == nil {
		typing = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"typing": typing,
	})
}
