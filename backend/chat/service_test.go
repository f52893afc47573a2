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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/realtime"
	"github.com/efchatnet/efconvo/backend/storage/memory"
)

// fakeTracker records presence/typing calls in memory.
type fakeTracker struct {
	mu      sync.Mutex
	present map[string]map[string]models.Participant
	typing  map[string]map[string]time.Time
	enters  int
	leaves  int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		present: make(map[string]map[string]models.Participant),
		typing:  make(map[string]map[string]time.Time),
	}
}

func (f *fakeTracker) Enter(ctx context.Context, convID string, p models.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.present[convID] == nil {
		f.present[convID] = make(map[string]models.Participant)
	}
	f.present[convID][p.ID] = p
	f.enters++
	return nil
}

func (f *fakeTracker) Heartbeat(ctx context.Context, convID, userID string) error { return nil }

func (f *fakeTracker) Leave(ctx context.Context, convID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.present[convID], userID)
	f.leaves++
	return nil
}

func (f *fakeTracker) Presence(ctx context.Context, convID string) ([]models.PresenceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []models.PresenceEntry
	for _, p := range f.present[convID] {
		entries = append(entries, models.PresenceEntry{Participant: p})
	}
	return entries, nil
}

func (f *fakeTracker) StartTyping(ctx context.Context, convID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typing[convID] == nil {
		f.typing[convID] = make(map[string]time.Time)
	}
	f.typing[convID][userID] = time.Now().Add(time.Second)
	return nil
}

func (f *fakeTracker) StopTyping(ctx context.Context, convID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.typing[convID], userID)
	return nil
}

func (f *fakeTracker) CurrentTyping(ctx context.Context, convID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []string
	for userID, expiry := range f.typing[convID] {
		if time.Now().Before(expiry) {
			users = append(users, userID)
		}
	}
	return users, nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeTracker) {
	t.Helper()
	store := memory.NewStore()
	hub := realtime.NewHub(nil, nil)
	t.Cleanup(hub.Close)
	tracker := newFakeTracker()
	svc := NewService(store, hub, tracker, nil, nil, WithReconcileInterval(30*time.Millisecond))
	return svc, store, tracker
}

func TestOpenDirectCreatesOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv1, _, err := svc.OpenDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("OpenDirect failed: %v", err)
	}
	// Opened again by the other side, arguments reversed
	conv2, _, err := svc.OpenDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("OpenDirect failed: %v", err)
	}

	if conv1.ID != conv2.ID {
		t.Errorf("same pair must map to one conversation: %s vs %s", conv1.ID, conv2.ID)
	}
	if conv1.User1ID != "alice" || conv1.User2ID != "bob" {
		t.Errorf("participants not canonically ordered: %+v", conv1)
	}
}

func TestOpenDirectConcurrentCallersShareOneConversation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, peer := "alice", "bob"
			if i%2 == 1 {
				user, peer = peer, user
			}
			conv, _, err := svc.OpenDirect(ctx, user, peer)
			if err != nil {
				t.Errorf("OpenDirect failed: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}
}

func TestOpenDirectRejectsSelf(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.OpenDirect(context.Background(), "alice", "alice")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestOpenTeamIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv1, _, err := svc.OpenTeam(ctx, "alice", "team-42")
	if err != nil {
		t.Fatalf("OpenTeam failed: %v", err)
	}
	conv2, _, err := svc.OpenTeam(ctx, "bob", "team-42")
	if err != nil {
		t.Fatalf("OpenTeam failed: %v", err)
	}
	if conv1.ID != conv2.ID {
		t.Errorf("same team must map to one conversation")
	}
	if conv1.Kind != models.KindTeam || conv1.TeamID != "team-42" {
		t.Errorf("unexpected conversation %+v", conv1)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.OpenDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("OpenDirect failed: %v", err)
	}

	cases := []struct {
		name    string
		content string
		msgType models.MessageType
	}{
		{"empty text", "", models.MessageText},
		{"whitespace only", "   ", models.MessageText},
		{"oversized", strings.Repeat("x", models.MaxContentLength+1), models.MessageText},
		{"poll without reference", "", models.MessagePoll},
	}
	for _, tc := range cases {
		_, err := svc.SendMessage(ctx, conv.ID, "alice", tc.content, tc.msgType, "")
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}

	// Validation failures leave the log untouched
	history, err := svc.ListMessages(ctx, conv.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("rejected sends must not append, got %d messages", len(history))
	}
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, _, _ := svc.OpenDirect(ctx, "alice", "bob")
	_, err := svc.SendMessage(ctx, conv.ID, "mallory", "hi", models.MessageText, "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSendMessageDeliversToSubscriber(t *testing.T) {
	svc, _, tracker := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.OpenDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("OpenDirect failed: %v", err)
	}

	var mu sync.Mutex
	var received []models.Message
	sub, err := svc.Subscribe(ctx, conv.ID, models.Participant{ID: "bob", DisplayName: "Bob"}, realtime.Handlers{
		OnMessage: func(msg models.Message) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, msg)
		},
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	sent, err := svc.SendMessage(ctx, conv.ID, "alice", "hi", models.MessageText, "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The relay and the reconcile tick both carried it; the view keeps one
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Errorf("expected exactly one delivery, got %d", len(received))
	}
	if received[0].ID != sent.ID || received[0].SenderID != "alice" || received[0].Content != "hi" {
		t.Errorf("unexpected message %+v", received[0])
	}

	// Subscribing entered presence
	entries, _ := tracker.Presence(ctx, conv.ID)
	if len(entries) != 1 || entries[0].ID != "bob" {
		t.Errorf("expected bob present, got %+v", entries)
	}
}

func TestSubscriptionCloseLeavesPresence(t *testing.T) {
	svc, _, tracker := newTestService(t)
	ctx := context.Background()

	conv, _, _ := svc.OpenDirect(ctx, "alice", "bob")
	sub, err := svc.Subscribe(ctx, conv.ID, models.Participant{ID: "bob"}, realtime.Handlers{})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sub.Close()
	sub.Close() // idempotent

	entries, _ := tracker.Presence(ctx, conv.ID)
	if len(entries) != 0 {
		t.Errorf("expected empty presence after close, got %+v", entries)
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.leaves != 1 {
		t.Errorf("expected exactly one leave, got %d", tracker.leaves)
	}
}

func TestInboxPreviews(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	withMsgs, _, _ := svc.OpenDirect(ctx, "alice", "bob")
	empty, _, _ := svc.OpenDirect(ctx, "alice", "carol")

	svc.SendMessage(ctx, withMsgs.ID, "alice", "first", models.MessageText, "")
	last, err := svc.SendMessage(ctx, withMsgs.ID, "bob", "second", models.MessageText, "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	entries, err := svc.Inbox(ctx, "alice")
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(entries))
	}

	byID := make(map[string]InboxEntry)
	for _, entry := range entries {
		byID[entry.Conversation.ID] = entry
	}
	if entry := byID[withMsgs.ID]; entry.LastMessage == nil || entry.LastMessage.ID != last.ID {
		t.Errorf("expected preview of %s, got %+v", last.ID, entry.LastMessage)
	}
	if entry := byID[empty.ID]; entry.LastMessage != nil {
		t.Errorf("empty conversation must have no preview, got %+v", entry.LastMessage)
	}
}

func TestInvitationReachesOnlyRecipient(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	bobSub := svc.SubscribeUser("bob")
	defer bobSub.Cancel()
	carolSub := svc.SubscribeUser("carol")
	defer carolSub.Cancel()

	svc.SendInvitation(ctx, models.Invitation{FromID: "alice", ToID: "bob"})

	select {
	case event := <-bobSub.C:
		if event.Kind != models.EventInvitation || event.Invitation.FromID != "alice" {
			t.Errorf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("invitation never arrived")
	}

	select {
	case event := <-carolSub.C:
		t.Errorf("carol must not receive bob's invitation, got %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSetTypingRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, _, _ := svc.OpenDirect(ctx, "alice", "bob")

	svc.SetTyping(ctx, conv.ID, "alice", true)
	typing, err := svc.CurrentTyping(ctx, conv.ID)
	if err != nil {
		t.Fatalf("CurrentTyping failed: %v", err)
	}
	if len(typing) != 1 || typing[0] != "alice" {
		t.Errorf("expected [alice], got %v", typing)
	}

	svc.SetTyping(ctx, conv.ID, "alice", false)
	typing, _ = svc.CurrentTyping(ctx, conv.ID)
	if len(typing) != 0 {
		t.Errorf("expected empty typing set, got %v", typing)
	}
}
