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

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/storage"
)

// DefaultReconcileInterval is how often a session re-queries the log to
// heal events missed while a transport was down.
const DefaultReconcileInterval = 5 * time.Second

// Handlers are the session owner's callbacks. Nil handlers are skipped.
// Handlers are invoked from the session goroutine and stop firing once
// Close returns.
type Handlers struct {
	OnMessage  func(models.Message)
	OnPresence func(models.Event)
	OnTyping   func(models.Event)
}

// Session keeps one client's view of one conversation synchronized. It
// merges two independent event sources, the hub relay and the store's
// change feed, into one deduplicated view, and reconciles against a
// full log query on a fixed tick. Final state is order-independent:
// whichever source wins the race to deliver a message, Apply keeps one
// copy in timestamp order.
type Session struct {
	conversationID string
	view           *View
	handlers       Handlers
	log            *slog.Logger

	msgs   storage.MessageStore
	sub    *Subscription
	feed   *redis.PubSub
	tick   time.Duration
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSession subscribes to the conversation's relay channel and change
// feed and starts the reconcile loop. rdb may be nil (no change feed;
// the reconcile tick still heals gaps).
func NewSession(hub *Hub, rdb *redis.Client, msgs storage.MessageStore, conversationID string, handlers Handlers, log *slog.Logger) *Session {
	return NewSessionWithInterval(hub, rdb, msgs, conversationID, handlers, DefaultReconcileInterval, log)
}

// NewSessionWithInterval is NewSession with a custom reconcile tick.
func NewSessionWithInterval(hub *Hub, rdb *redis.Client, msgs storage.MessageStore, conversationID string, handlers Handlers, tick time.Duration, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if tick <= 0 {
		tick = DefaultReconcileInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conversationID: conversationID,
		view:           NewView(),
		handlers:       handlers,
		log:            log,
		msgs:           msgs,
		sub:            hub.Subscribe(ConversationChannel(conversationID)),
		tick:           tick,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	if rdb != nil {
		s.feed = rdb.Subscribe(ctx, FeedChannel(conversationID))
	}

	go s.run(ctx)
	return s
}

// View exposes the session's message view.
func (s *Session) View() *View {
	return s.view
}

// Subscription returns the session's relay subscription, so a publisher
// can exclude itself from its own fan-out.
func (s *Session) Subscription() *Subscription {
	return s.sub
}

// Close tears the session down: both event sources are unsubscribed and
// the reconcile timer stopped. Blocks until the event loop has exited,
// after which no handler fires again.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.sub.Cancel()
		if s.feed != nil {
			s.feed.Close()
		}
		<-s.done
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	var feedCh <-chan *redis.Message
	if s.feed != nil {
		feedCh = s.feed.Channel()
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Catch up on history that landed before the subscriptions opened.
	s.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.sub.C:
			if !ok {
				return
			}
			s.handleEvent(event)
		case msg, ok := <-feedCh:
			if !ok {
				feedCh = nil
				continue
			}
			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.log.Warn("dropping malformed feed event", "conversation", s.conversationID, "error", err)
				continue
			}
			s.handleEvent(event)
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *Session) handleEvent(event models.Event) {
	switch event.Kind {
	case models.EventMessage:
		if event.Message == nil {
			return
		}
		s.applyMessage(*event.Message)
	case models.EventEnter, models.EventLeave:
		if s.handlers.OnPresence != nil {
			s.handlers.OnPresence(event)
		}
	case models.EventTypingStart, models.EventTypingStop:
		if s.handlers.OnTyping != nil {
			s.handlers.OnTyping(event)
		}
	}
}

func (s *Session) applyMessage(msg models.Message) {
	if !s.view.Apply(msg) {
		return
	}
	if s.handlers.OnMessage != nil {
		s.handlers.OnMessage(msg)
	}
}

// reconcile heals the view against the durable log. Errors are
// transient by contract; the next tick retries.
func (s *Session) reconcile(ctx context.Context) {
	msgs, err := s.msgs.ListMessages(ctx, s.conversationID, s.view.LastKnown(), storage.DefaultListLimit)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("reconcile query failed", "conversation", s.conversationID, "error", err)
		}
		return
	}
	for _, msg := range msgs {
		s.applyMessage(msg)
	}
}
