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

	"github.com/lib/pq"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/storage"
)

// FindDirect finds the direct conversation for a canonical pair
func (s *Store) FindDirect(ctx context.Context, user1ID, user2ID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, kind, user1_id, user2_id, team_id, created_at
		FROM conversations
		WHERE kind = 'direct' AND user1_id = $1 AND user2_id = $2
	`, user1ID, user2ID)
	return scanConversation(row)
}

// FindTeam finds the conversation attached to a team
func (s *Store) FindTeam(ctx context.Context, teamID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, kind, user1_id, user2_id, team_id, created_at
		FROM conversations
		WHERE kind = 'team' AND team_id = $1
	`, teamID)
	return scanConversation(row)
}

// FindByID finds a conversation by identifier
func (s *Store) FindByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, kind, user1_id, user2_id, team_id, created_at
		FROM conversations
		WHERE conversation_id = $1
	`, conversationID)
	return scanConversation(row)
}

// CreateConversation inserts a new conversation row. A unique violation
// means a concurrent caller won the create race; it is reported as
// storage.ErrConflict so the caller can re-read the winner's row.
func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, kind, user1_id, user2_id, team_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''))
	`, conv.ID, conv.Kind, conv.User1ID, conv.User2ID, conv.TeamID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return storage.ErrConflict
		}
		return err
	}
	return nil
}

// ConversationsForUser lists all direct conversations a user is part of
func (s *Store) ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, kind, user1_id, user2_id, team_id, created_at
		FROM conversations
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var conv models.Conversation
	var user1, user2, team sql.NullString

	err := row.Scan(&conv.ID, &conv.Kind, &user1, &user2, &team, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conv.User1ID = user1.String
	conv.User2ID = user2.String
	conv.TeamID = team.String
	return &conv, nil
}

func scanConversationRow(rows *sql.Rows) (models.Conversation, error) {
	var conv models.Conversation
	var user1, user2, team sql.NullString

	err := rows.Scan(&conv.ID, &conv.Kind, &user1, &user2, &team, &conv.CreatedAt)
	if err != nil {
		return conv, err
	}

	conv.User1ID = user1.String
	conv.User2ID = user2.String
	conv.TeamID = team.String
	return conv, nil
}
