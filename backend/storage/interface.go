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

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/efchatnet/efconvo/backend/models"
)

// ErrConflict is returned by CreateConversation when a conversation for
// the same (kind, canonical key) already exists. Expected under
// concurrent creation; callers resolve it by re-reading.
var ErrConflict = errors.New("conversation already exists")

// DefaultListLimit caps ListMessages results when the caller passes
// limit <= 0.
const DefaultListLimit = 200

type ConversationStore interface {
	// FindDirect looks up the direct conversation for a canonical pair.
	// Returns (nil, nil) when absent.
	FindDirect(ctx context.Context, user1ID, user2ID string) (*models.Conversation, error)
	// FindTeam looks up the team conversation for a team id.
	// Returns (nil, nil) when absent.
	FindTeam(ctx context.Context, teamID string) (*models.Conversation, error)
	// FindByID looks up a conversation by identifier.
	// Returns (nil, nil) when absent.
	FindByID(ctx context.Context, conversationID string) (*models.Conversation, error)
	// CreateConversation inserts a new conversation row. Returns
	// ErrConflict when a row for the same (kind, canonical key)
	// already exists.
	CreateConversation(ctx context.Context, conv models.Conversation) error
	// ConversationsForUser lists conversations the user participates in.
	ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
}

type MessageStore interface {
	// AppendMessage inserts one message row. The store assigns the
	// authoritative creation timestamp and returns the stored message.
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	// ListMessages returns messages ordered by (created_at, id)
	// ascending. since is an optional lower bound for incremental
	// catch-up (zero value means from the beginning); limit caps the
	// result size.
	ListMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]models.Message, error)
	// LatestPerConversation returns each conversation's most recent
	// message. Conversations with no messages are absent from the map,
	// not an error.
	LatestPerConversation(ctx context.Context, conversationIDs []string) (map[string]models.Message, error)
}

type Store interface {
	ConversationStore
	MessageStore
}
