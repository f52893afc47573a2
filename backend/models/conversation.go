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

import (
	"time"
)

// ConversationKind distinguishes direct (two-party) conversations from
// team conversations.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindTeam   ConversationKind = "team"
)

// Conversation represents a chat conversation. For direct conversations
// User1ID/User2ID hold the two participants in canonical (smaller-first)
// order so that a unique pair always maps to one row. For team
// conversations TeamID is set instead.
type Conversation struct {
	ID        string           `json:"id"`
	Kind      ConversationKind `json:"kind"`
	User1ID   string           `json:"user1_id,omitempty"`
	User2ID   string           `json:"user2_id,omitempty"`
	TeamID    string           `json:"team_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// CanonicalPair orders two participant identifiers smaller-first. All
// lookups and inserts for direct conversations go through this so the
// unique constraint on (user1_id, user2_id) holds regardless of who
// initiates.
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// PeerOf returns the other participant of a direct conversation.
func (c *Conversation) PeerOf(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}
