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

package models

import "time"

// EventKind identifies the type of a realtime event.
type EventKind string

const (
	EventMessage     EventKind = "message"
	EventEnter       EventKind = "enter"
	EventLeave       EventKind = "leave"
	EventTypingStart EventKind = "typing_start"
	EventTypingStop  EventKind = "typing_stop"
	EventInvitation  EventKind = "invitation"
)

// Event is the envelope relayed over conversation and user channels.
// Message is set for message events, ParticipantID for presence/typing
// events. Origin is the identifier of the hub instance that first
// published the event; a hub drops incoming events carrying its own
// origin so a relayed event is applied locally exactly once.
type Event struct {
	Kind           EventKind   `json:"kind"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Message        *Message    `json:"message,omitempty"`
	ParticipantID  string      `json:"participant_id,omitempty"`
	Invitation     *Invitation `json:"invitation,omitempty"`
	At             time.Time   `json:"at"`
	Origin         string      `json:"origin,omitempty"`
}

// Participant holds the display attributes of a connected user.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PresenceEntry is an ephemeral record of a participant currently
// viewing a conversation. Reconstructible at any time from who is
// subscribed; never persisted durably.
type PresenceEntry struct {
	Participant
	JoinedAt time.Time `json:"joined_at"`
}

// Invitation is an out-of-band event addressed to a specific user's
// private channel rather than a conversation channel.
type Invitation struct {
	FromID         string    `json:"from_id"`
	ToID           string    `json:"to_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}
