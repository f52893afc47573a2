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

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/realtime"
	"github.com/efchatnet/efconvo/backend/storage"
)

// AppendMessage inserts one message row. The database assigns the
// creation timestamp so ordering is decided by one clock. On success
// the row is announced on the conversation's feed channel; the publish
// is best-effort, the row itself is the durable truth.
func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, sender_id, content, message_type, poll_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''))
		RETURNING created_at
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.PollID).Scan(&msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}

	s.publishFeedEvent(ctx, msg)

	return msg, nil
}

// publishFeedEvent announces a row insert on the conversation's feed
// channel. Errors are ignored: subscribers heal missed events through
// the reconciliation poll.
func (s *Store) publishFeedEvent(ctx context.Context, msg models.Message) {
	if s.rdb == nil {
		return
	}
	event := models.Event{
		Kind:           models.EventMessage,
		ConversationID: msg.ConversationID,
		Message:        &msg,
		At:             msg.CreatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.rdb.Publish(ctx, realtime.FeedChannel(msg.ConversationID), data)
}

// ListMessages returns messages for a conversation ordered by creation
// time ascending, ties broken by message id. A zero since returns from
// the beginning of the log.
func (s *Store) ListMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > storage.DefaultListLimit {
		limit = storage.DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, sender_id, content, message_type, poll_id, created_at
		FROM messages
		WHERE conversation_id = $1 AND created_at >= $2
		ORDER BY created_at, message_id
		LIMIT $3
	`, conversationID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

// LatestPerConversation returns the most recent message of each listed
// conversation. Conversations with no messages are simply absent from
// the result.
func (s *Store) LatestPerConversation(ctx context.Context, conversationIDs []string) (map[string]models.Message, error) {
	latest := make(map[string]models.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return latest, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (conversation_id)
		       message_id, conversation_id, sender_id, content, message_type, poll_id, created_at
		FROM messages
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, created_at DESC, message_id DESC
	`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		latest[msg.ConversationID] = msg
	}

	return latest, nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var sender, content, poll sql.NullString

		err := rows.Scan(&msg.ID, &msg.ConversationID, &sender, &content, &msg.Type, &poll, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}

		msg.SenderID = sender.String
		msg.Content = content.String
		msg.PollID = poll.String
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
