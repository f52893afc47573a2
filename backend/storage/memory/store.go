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

// Package memory provides an in-memory storage.Store used by tests and
// local development. Semantics mirror the PostgreSQL store: canonical
// pair uniqueness reported as storage.ErrConflict, store-assigned
// creation timestamps, (created_at, id) ordering.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/storage"
)

type Store struct {
	mu    sync.RWMutex
	convs map[string]models.Conversation
	msgs  map[string][]models.Message

	// Now is the clock used for store-assigned timestamps. Tests may
	// replace it.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		convs: make(map[string]models.Conversation),
		msgs:  make(map[string][]models.Message),
		Now:   time.Now,
	}
}

func (s *Store) FindDirect(ctx context.Context, user1ID, user2ID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conv := range s.convs {
		if conv.Kind == models.KindDirect && conv.User1ID == user1ID && conv.User2ID == user2ID {
			c := conv
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) FindTeam(ctx context.Context, teamID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conv := range s.convs {
		if conv.Kind == models.KindTeam && conv.TeamID == teamID {
			c := conv
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) FindByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, ok := s.convs[conversationID]; ok {
		c := conv
		return &c, nil
	}
	return nil, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[conv.ID]; ok {
		return storage.ErrConflict
	}
	for _, existing := range s.convs {
		if existing.Kind != conv.Kind {
			continue
		}
		switch conv.Kind {
		case models.KindDirect:
			if existing.User1ID == conv.User1ID && existing.User2ID == conv.User2ID {
				return storage.ErrConflict
			}
		case models.KindTeam:
			if existing.TeamID == conv.TeamID {
				return storage.ErrConflict
			}
		}
	}

	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.Now()
	}
	s.convs[conv.ID] = conv
	return nil
}

func (s *Store) ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []models.Conversation
	for _, conv := range s.convs {
		if conv.User1ID == userID || conv.User2ID == userID {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.Now()
	}
	s.msgs[msg.ConversationID] = append(s.msgs[msg.ConversationID], msg)
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > storage.DefaultListLimit {
		limit = storage.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []models.Message
	for _, msg := range s.msgs[conversationID] {
		if msg.CreatedAt.Before(since) {
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Store) LatestPerConversation(ctx context.Context, conversationIDs []string) (map[string]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]models.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		for _, msg := range s.msgs[id] {
			best, ok := latest[id]
			if !ok || best.Before(msg) {
				latest[id] = msg
			}
		}
	}
	return latest, nil
}
