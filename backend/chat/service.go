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

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/realtime"
	"github.com/efchatnet/efconvo/backend/storage"
)

// PresenceTracker is the ephemeral membership and typing state the
// service delegates to (Redis in production).
type PresenceTracker interface {
	Enter(ctx context.Context, conversationID string, p models.Participant) error
	Heartbeat(ctx context.Context, conversationID, userID string) error
	Leave(ctx context.Context, conversationID, userID string) error
	Presence(ctx context.Context, conversationID string) ([]models.PresenceEntry, error)
	StartTyping(ctx context.Context, conversationID, userID string) error
	StopTyping(ctx context.Context, conversationID, userID string) error
	CurrentTyping(ctx context.Context, conversationID string) ([]string, error)
}

// Notifier hands a freshly appended message to the push-notification
// pipeline. Implementations must not block.
type Notifier interface {
	NotifyMessage(ctx context.Context, recipientID string, msg models.Message)
}

// Service is the conversation coordination core: directory resolution,
// message log access, relay fan-out, presence and typing.
type Service struct {
	store    storage.Store
	hub      *realtime.Hub
	tracker  PresenceTracker
	rdb      *redis.Client
	notifier Notifier
	log      *slog.Logger

	reconcileInterval time.Duration
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithNotifier attaches a push-notification egress.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithReconcileInterval overrides the session reconcile tick.
func WithReconcileInterval(d time.Duration) Option {
	return func(s *Service) { s.reconcileInterval = d }
}

// NewService wires the coordination core. rdb may be nil (no change
// feed, single process); tracker must not be nil.
func NewService(store storage.Store, hub *realtime.Hub, tracker PresenceTracker, rdb *redis.Client, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:             store,
		hub:               hub,
		tracker:           tracker,
		rdb:               rdb,
		log:               log,
		reconcileInterval: realtime.DefaultReconcileInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenDirect resolves or creates the direct conversation between two
// users and loads its history. Creation is idempotent under concurrent
// callers: losing the insert race means re-reading the winner's row.
func (s *Service) OpenDirect(ctx context.Context, userID, peerID string) (*models.Conversation, []models.Message, error) {
	if userID == "" {
		return nil, nil, ErrUnauthorized
	}
	if peerID == "" || peerID == userID {
		return nil, nil, fmt.Errorf("%w: invalid peer", ErrValidation)
	}

	user1, user2 := models.CanonicalPair(userID, peerID)

	conv, err := s.store.FindDirect(ctx, user1, user2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if conv == nil {
		candidate := models.Conversation{
			ID:      "dm_" + uuid.New().String(),
			Kind:    models.KindDirect,
			User1ID: user1,
			User2ID: user2,
		}
		conv, err = s.create(ctx, candidate, func(ctx context.Context) (*models.Conversation, error) {
			return s.store.FindDirect(ctx, user1, user2)
		})
		if err != nil {
			return nil, nil, err
		}
	}

	return s.withHistory(ctx, conv)
}

// OpenTeam resolves or creates the conversation attached to a team and
// loads its history. Team membership is the host application's concern.
func (s *Service) OpenTeam(ctx context.Context, userID, teamID string) (*models.Conversation, []models.Message, error) {
	if userID == "" {
		return nil, nil, ErrUnauthorized
	}
	if teamID == "" {
		return nil, nil, fmt.Errorf("%w: team id is required", ErrValidation)
	}

	conv, err := s.store.FindTeam(ctx, teamID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if conv == nil {
		candidate := models.Conversation{
			ID:     "team_" + uuid.New().String(),
			Kind:   models.KindTeam,
			TeamID: teamID,
		}
		conv, err = s.create(ctx, candidate, func(ctx context.Context) (*models.Conversation, error) {
			return s.store.FindTeam(ctx, teamID)
		})
		if err != nil {
			return nil, nil, err
		}
	}

	return s.withHistory(ctx, conv)
}

// create inserts a conversation row, resolving a lost create race by
// re-reading the concurrent winner's row.
func (s *Service) create(ctx context.Context, candidate models.Conversation, reread func(context.Context) (*models.Conversation, error)) (*models.Conversation, error) {
	err := s.store.CreateConversation(ctx, candidate)
	if err == nil {
		conv, err := s.store.FindByID(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read back conversation: %w", err)
		}
		if conv == nil {
			return nil, ErrConversationResolution
		}
		return conv, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	conv, err := reread(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read conversation after conflict: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationResolution
	}
	return conv, nil
}

func (s *Service) withHistory(ctx context.Context, conv *models.Conversation) (*models.Conversation, []models.Message, error) {
	history, err := s.store.ListMessages(ctx, conv.ID, time.Time{}, storage.DefaultListLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}
	return conv, history, nil
}

// SendMessage validates, durably appends, then relays. The append is
// the source of truth: relay and notification failures never fail the
// send. exclude lets a subscribed sender skip its own fan-out (it
// already holds the returned message).
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string, msgType models.MessageType, pollID string, exclude ...*realtime.Subscription) (models.Message, error) {
	if senderID == "" {
		return models.Message{}, ErrUnauthorized
	}
	if msgType == "" {
		msgType = models.MessageText
	}

	switch msgType {
	case models.MessageText:
		if strings.TrimSpace(content) == "" {
			return models.Message{}, fmt.Errorf("%w: message content is empty", ErrValidation)
		}
	case models.MessagePoll:
		if pollID == "" {
			return models.Message{}, fmt.Errorf("%w: poll reference is required", ErrValidation)
		}
	}
	if len([]rune(content)) > models.MaxContentLength {
		return models.Message{}, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, models.MaxContentLength)
	}

	conv, err := s.store.FindByID(ctx, conversationID)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if conv == nil {
		return models.Message{}, fmt.Errorf("%w: unknown conversation", ErrValidation)
	}
	if conv.Kind == models.KindDirect && conv.User1ID != senderID && conv.User2ID != senderID {
		return models.Message{}, ErrUnauthorized
	}

	msg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		PollID:         pollID,
	}

	stored, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to append message: %w", err)
	}

	s.hub.Publish(ctx, realtime.ConversationChannel(conversationID), models.Event{
		Kind:           models.EventMessage,
		ConversationID: conversationID,
		Message:        &stored,
		At:             stored.CreatedAt,
	}, exclude...)

	if s.notifier != nil && conv.Kind == models.KindDirect {
		s.notifier.NotifyMessage(ctx, conv.PeerOf(senderID), stored)
	}

	return stored, nil
}

// ListMessages exposes incremental history catch-up.
func (s *Service) ListMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]models.Message, error) {
	return s.store.ListMessages(ctx, conversationID, since, limit)
}

// InboxEntry is one conversation preview: the conversation plus its
// most recent message, if it has one.
type InboxEntry struct {
	Conversation models.Conversation `json:"conversation"`
	LastMessage  *models.Message     `json:"last_message,omitempty"`
}

// Inbox lists a user's conversations with their latest message. Empty
// conversations appear without a preview.
func (s *Service) Inbox(ctx context.Context, userID string) ([]InboxEntry, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	convs, err := s.store.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	ids := make([]string, len(convs))
	for i, conv := range convs {
		ids[i] = conv.ID
	}
	latest, err := s.store.LatestPerConversation(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load previews: %w", err)
	}

	entries := make([]InboxEntry, len(convs))
	for i, conv := range convs {
		entries[i] = InboxEntry{Conversation: conv}
		if msg, ok := latest[conv.ID]; ok {
			m := msg
			entries[i].LastMessage = &m
		}
	}

	return entries, nil
}

// Subscription owns one participant's live attachment to a
// conversation: presence entry, relay subscription, change-feed
// subscription and reconcile timer. Close releases all of them.
type Subscription struct {
	Session *realtime.Session

	svc            *Service
	conversationID string
	userID         string
	once           sync.Once
}

// Close leaves presence and tears the session down. Idempotent.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sub.svc.tracker.Leave(ctx, sub.conversationID, sub.userID); err != nil {
			sub.svc.log.Warn("presence leave failed", "conversation", sub.conversationID, "user", sub.userID, "error", err)
		}
		sub.Session.Close()
	})
}

// Subscribe attaches a participant to a conversation: enters presence
// and starts a session merging the relay channel, the change feed and
// the reconciliation poll into one deduplicated view.
//
// Presence errors are non-critical and self-healing via expiry, so they
// are logged and swallowed rather than failing the subscribe.
func (s *Service) Subscribe(ctx context.Context, conversationID string, p models.Participant, handlers realtime.Handlers) (*Subscription, error) {
	if p.ID == "" {
		return nil, ErrUnauthorized
	}

	if err := s.tracker.Enter(ctx, conversationID, p); err != nil {
		s.log.Warn("presence enter failed", "conversation", conversationID, "user", p.ID, "error", err)
	}

	session := realtime.NewSessionWithInterval(s.hub, s.rdb, s.store, conversationID, handlers, s.reconcileInterval, s.log)
	return &Subscription{
		Session:        session,
		svc:            s,
		conversationID: conversationID,
		userID:         p.ID,
	}, nil
}

// SetTyping sets or clears the caller's typing flag. Errors are
// non-critical (the flag self-heals via expiry) and are swallowed.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID string, typing bool) {
	var err error
	if typing {
		err = s.tracker.StartTyping(ctx, conversationID, userID)
	} else {
		err = s.tracker.StopTyping(ctx, conversationID, userID)
	}
	if err != nil {
		s.log.Warn("typing update failed", "conversation", conversationID, "user", userID, "error", err)
	}
}

// Heartbeat extends the caller's presence deadline.
func (s *Service) Heartbeat(ctx context.Context, conversationID, userID string) {
	if err := s.tracker.Heartbeat(ctx, conversationID, userID); err != nil {
		s.log.Warn("heartbeat failed", "conversation", conversationID, "user", userID, "error", err)
	}
}

// Presence returns who is currently viewing a conversation.
func (s *Service) Presence(ctx context.Context, conversationID string) ([]models.PresenceEntry, error) {
	return s.tracker.Presence(ctx, conversationID)
}

// CurrentTyping returns who is currently typing in a conversation.
func (s *Service) CurrentTyping(ctx context.Context, conversationID string) ([]string, error) {
	return s.tracker.CurrentTyping(ctx, conversationID)
}

// SendInvitation delivers an out-of-band event to the recipient's
// private channel only.
func (s *Service) SendInvitation(ctx context.Context, inv models.Invitation) {
	if inv.SentAt.IsZero() {
		inv.SentAt = time.Now()
	}
	s.hub.Publish(ctx, realtime.UserChannel(inv.ToID), models.Event{
		Kind:           models.EventInvitation,
		ConversationID: inv.ConversationID,
		ParticipantID:  inv.FromID,
		Invitation:     &inv,
		At:             inv.SentAt,
	})
}

// SubscribeUser joins a user's private channel for out-of-band events.
func (s *Service) SubscribeUser(userID string) *realtime.Subscription {
	return s.hub.Subscribe(realtime.UserChannel(userID))
}
