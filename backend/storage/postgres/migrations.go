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

func (s *Store) Migrate() error {
	migrations := []string{
		// Conversations table. A direct conversation stores its two
		// participants in canonical order (user1_id < user2_id), so the
		// unique constraint resolves the create race between two
		// participants opening the same DM at once. A team conversation
		// stores the team id instead, unique per team.
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id VARCHAR(255) PRIMARY KEY,
			kind VARCHAR(20) NOT NULL CHECK (kind IN ('direct', 'team')),
			user1_id VARCHAR(255),
			user2_id VARCHAR(255),
			team_id VARCHAR(255),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT unique_direct_pair UNIQUE (user1_id, user2_id),
			CONSTRAINT unique_team UNIQUE (team_id),
			CONSTRAINT ordered_users CHECK (user1_id IS NULL OR user1_id < user2_id),
			CONSTRAINT direct_members CHECK (kind <> 'direct' OR (user1_id IS NOT NULL AND user2_id IS NOT NULL)),
			CONSTRAINT team_key CHECK (kind <> 'team' OR team_id IS NOT NULL)
		)`,

		// Index for listing a user's conversations
		`CREATE INDEX IF NOT EXISTS idx_user1_conversations
		ON conversations(user1_id)`,

		`CREATE INDEX IF NOT EXISTS idx_user2_conversations
		ON conversations(user2_id)`,

		// Messages table (append-only; rows are never updated)
		`CREATE TABLE IF NOT EXISTS messages (
			message_id VARCHAR(255) PRIMARY KEY,
			conversation_id VARCHAR(255) NOT NULL,
			sender_id VARCHAR(255),
			content TEXT,
			message_type VARCHAR(20) NOT NULL DEFAULT 'text',
			poll_id VARCHAR(255),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		)`,

		// Index for ordered history retrieval and incremental catch-up
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages
		ON messages(conversation_id, created_at, message_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
