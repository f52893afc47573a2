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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/storage/memory"
)

type recorder struct {
	mu       sync.Mutex
	messages []models.Message
	typing   []models.Event
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessage: func(msg models.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, msg)
		},
		OnTyping: func(event models.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.typing = append(r.typing, event)
		},
	}
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSessionReceivesRelayAndFeedOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := memory.NewStore()
	hub := NewHub(rdb, nil)
	defer hub.Close()

	rec := &recorder{}
	session := NewSessionWithInterval(hub, rdb, store, "dm_1", rec.handlers(), 50*time.Millisecond, nil)
	defer session.Close()
	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	msg, err := store.AppendMessage(ctx, models.Message{
		ID:             "m1",
		ConversationID: "dm_1",
		SenderID:       "alice",
		Content:        "hi",
		Type:           models.MessageText,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	event := models.Event{
		Kind:           models.EventMessage,
		ConversationID: "dm_1",
		Message:        &msg,
		At:             msg.CreatedAt,
	}

	// Deliver through all three paths: relay, change feed, reconcile
	hub.Publish(ctx, ConversationChannel("dm_1"), event)
	data, _ := json.Marshal(event)
	rdb.Publish(ctx, FeedChannel("dm_1"), data)

	waitFor(t, 2*time.Second, func() bool { return rec.messageCount() >= 1 })
	time.Sleep(200 * time.Millisecond) // give duplicates time to show up

	if n := rec.messageCount(); n != 1 {
		t.Errorf("expected exactly one delivery, got %d", n)
	}
	if session.View().Len() != 1 {
		t.Errorf("expected one message in view, got %d", session.View().Len())
	}
}

func TestSessionHealsMissedEventsByReconciling(t *testing.T) {
	store := memory.NewStore()
	hub := NewHub(nil, nil)
	defer hub.Close()

	// Message lands in the store before the session exists: no relay
	// event, no feed event. Only the reconcile poll can find it.
	ctx := context.Background()
	if _, err := store.AppendMessage(ctx, models.Message{
		ID: "m1", ConversationID: "dm_1", SenderID: "alice", Content: "hi", Type: models.MessageText,
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	rec := &recorder{}
	session := NewSessionWithInterval(hub, nil, store, "dm_1", rec.handlers(), 30*time.Millisecond, nil)
	defer session.Close()

	waitFor(t, 2*time.Second, func() bool { return rec.messageCount() == 1 })

	// A second message appended later is picked up by a later tick
	if _, err := store.AppendMessage(ctx, models.Message{
		ID: "m2", ConversationID: "dm_1", SenderID: "bob", Content: "hey", Type: models.MessageText,
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return rec.messageCount() == 2 })

	msgs := session.View().Messages()
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("expected [m1 m2], got [%s %s]", msgs[0].ID, msgs[1].ID)
	}
}

func TestSessionOrderIndependentOfArrival(t *testing.T) {
	store := memory.NewStore()
	hub := NewHub(nil, nil)
	defer hub.Close()

	rec := &recorder{}
	session := NewSessionWithInterval(hub, nil, store, "dm_1", rec.handlers(), time.Hour, nil)
	defer session.Close()

	t0 := time.Now()
	m1 := models.Message{ID: "m1", ConversationID: "dm_1", Content: "first", Type: models.MessageText, CreatedAt: t0}
	m2 := models.Message{ID: "m2", ConversationID: "dm_1", Content: "second", Type: models.MessageText, CreatedAt: t0.Add(time.Second)}

	// m2's relay event wins the race
	ctx := context.Background()
	hub.Publish(ctx, ConversationChannel("dm_1"), models.Event{Kind: models.EventMessage, Message: &m2, At: m2.CreatedAt})
	hub.Publish(ctx, ConversationChannel("dm_1"), models.Event{Kind: models.EventMessage, Message: &m1, At: m1.CreatedAt})

	waitFor(t, 2*time.Second, func() bool { return session.View().Len() == 2 })

	msgs := session.View().Messages()
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("view must order by timestamp, got [%s %s]", msgs[0].ID, msgs[1].ID)
	}
}

func TestSessionCloseStopsHandlers(t *testing.T) {
	store := memory.NewStore()
	hub := NewHub(nil, nil)
	defer hub.Close()

	rec := &recorder{}
	session := NewSessionWithInterval(hub, nil, store, "dm_1", rec.handlers(), time.Hour, nil)
	session.Close()
	session.Close() // idempotent

	hub.Publish(context.Background(), ConversationChannel("dm_1"), models.Event{
		Kind:    models.EventMessage,
		Message: &models.Message{ID: "m1", ConversationID: "dm_1"},
	})
	time.Sleep(100 * time.Millisecond)

	if rec.messageCount() != 0 {
		t.Error("no handler may fire after Close")
	}
}

func TestSessionForwardsTypingEvents(t *testing.T) {
	store := memory.NewStore()
	hub := NewHub(nil, nil)
	defer hub.Close()

	rec := &recorder{}
	session := NewSessionWithInterval(hub, nil, store, "dm_1", rec.handlers(), time.Hour, nil)
	defer session.Close()

	hub.Publish(context.Background(), ConversationChannel("dm_1"), models.Event{
		Kind:           models.EventTypingStart,
		ConversationID: "dm_1",
		ParticipantID:  "bob",
		At:             time.Now(),
	})

	waitFor(t, 2*time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.typing) == 1
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.typing[0].ParticipantID != "bob" || rec.typing[0].Kind != models.EventTypingStart {
		t.Errorf("unexpected typing event %+v", rec.typing[0])
	}
}
