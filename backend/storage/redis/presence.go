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

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efconvo/backend/models"
	"github.com/efchatnet/efconvo/backend/realtime"
)

const (
	// Default windows
	DefaultPresenceWindow = 30 * time.Second // no heartbeat for this long = left
	DefaultTypingWindow   = time.Second      // typing flag lifetime per signal

	// Redis key prefixes
	presencePrefix = "convo:presence:" // convo:presence:{convId} - zset of member -> heartbeat deadline
	attrsPrefix    = "convo:attrs:"    // convo:attrs:{convId} - hash of member -> display attributes
	typingPrefix   = "convo:typing:"   // convo:typing:{convId} - zset of member -> typing expiry
)

// Tracker keeps ephemeral per-conversation presence and typing state in
// Redis sorted sets. Scores are absolute deadlines (unix milliseconds),
// so reads filter out expired entries regardless of whether cleanup has
// run, and a stale out-of-order signal can never resurrect a flag past
// its legitimate window. State transitions are announced on the
// conversation's event channel; refreshes are silent.
type Tracker struct {
	rdb            *redis.Client
	presenceWindow time.Duration
	typingWindow   time.Duration
}

func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{
		rdb:            rdb,
		presenceWindow: DefaultPresenceWindow,
		typingWindow:   DefaultTypingWindow,
	}
}

// NewTrackerWithWindows creates a tracker with custom expiry windows.
func NewTrackerWithWindows(rdb *redis.Client, presenceWindow, typingWindow time.Duration) *Tracker {
	t := NewTracker(rdb)
	if presenceWindow > 0 {
		t.presenceWindow = presenceWindow
	}
	if typingWindow > 0 {
		t.typingWindow = typingWindow
	}
	return t
}

// Enter records presence for a participant. Re-entering while already
// present only refreshes the heartbeat deadline; the enter notification
// fires once per transition.
func (t *Tracker) Enter(ctx context.Context, conversationID string, p models.Participant) error {
	now := time.Now()
	key := presencePrefix + conversationID

	t.purgeExpired(ctx, key, now)

	added, err := t.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.Add(t.presenceWindow).UnixMilli()),
		Member: p.ID,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	t.rdb.Expire(ctx, key, 2*t.presenceWindow)

	if added == 0 {
		// Already present, just a heartbeat refresh
		return nil
	}

	entry := models.PresenceEntry{Participant: p, JoinedAt: now}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}
	attrsKey := attrsPrefix + conversationID
	if err := t.rdb.HSet(ctx, attrsKey, p.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to store display attributes: %w", err)
	}
	t.rdb.Expire(ctx, attrsKey, 2*t.presenceWindow)

	t.publish(ctx, models.Event{
		Kind:           models.EventEnter,
		ConversationID: conversationID,
		ParticipantID:  p.ID,
		At:             now,
	})

	return nil
}

// Heartbeat extends the presence deadline for an already-present
// participant. A heartbeat for an absent participant is a no-op. The
// key-level TTLs are pushed out along with the member deadline so a
// long-lived subscriber never loses the whole set from under it.
func (t *Tracker) Heartbeat(ctx context.Context, conversationID, userID string) error {
	key := presencePrefix + conversationID
	deadline := float64(time.Now().Add(t.presenceWindow).UnixMilli())
	err := t.rdb.ZAddXX(ctx, key, redis.Z{Score: deadline, Member: userID}).Err()
	if err != nil {
		return fmt.Errorf("failed to refresh heartbeat: %w", err)
	}
	t.rdb.Expire(ctx, key, 2*t.presenceWindow)
	t.rdb.Expire(ctx, attrsPrefix+conversationID, 2*t.presenceWindow)
	return nil
}

// Leave removes presence. The leave notification fires only if the
// participant was actually present.
func (t *Tracker) Leave(ctx context.Context, conversationID, userID string) error {
	now := time.Now()
	key := presencePrefix + conversationID

	t.purgeExpired(ctx, key, now)

	removed, err := t.rdb.ZRem(ctx, key, userID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	t.rdb.HDel(ctx, attrsPrefix+conversationID, userID)

	// Leaving also clears any typing flag
	t.rdb.ZRem(ctx, typingPrefix+conversationID, userID)

	if removed > 0 {
		t.publish(ctx, models.Event{
			Kind:           models.EventLeave,
			ConversationID: conversationID,
			ParticipantID:  userID,
			At:             now,
		})
	}

	return nil
}

// Presence returns the participants currently viewing a conversation.
// Entries past their heartbeat deadline are excluded at read time, so a
// ghost left by a dead connection disappears without cleanup running.
func (t *Tracker) Presence(ctx context.Context, conversationID string) ([]models.PresenceEntry, error) {
	now := time.Now()
	key := presencePrefix + conversationID

	members, err := t.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", now.UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	attrs, err := t.rdb.HMGet(ctx, attrsPrefix+conversationID, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read display attributes: %w", err)
	}

	entries := make([]models.PresenceEntry, 0, len(members))
	for i, member := range members {
		var entry models.PresenceEntry
		if raw, ok := attrs[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				entry = models.PresenceEntry{}
			}
		}
		if entry.ID == "" {
			entry.Participant = models.Participant{ID: member}
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// StartTyping sets or refreshes the typing flag. The typing_start
// notification fires only on the not-typing to typing transition, not
// on every keystroke.
func (t *Tracker) StartTyping(ctx context.Context, conversationID, userID string) error {
	now := time.Now()
	key := typingPrefix + conversationID

	t.purgeExpired(ctx, key, now)

	added, err := t.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.Add(t.typingWindow).UnixMilli()),
		Member: userID,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to set typing flag: %w", err)
	}
	t.rdb.Expire(ctx, key, 2*t.typingWindow)

	if added > 0 {
		t.publish(ctx, models.Event{
			Kind:           models.EventTypingStart,
			ConversationID: conversationID,
			ParticipantID:  userID,
			At:             now,
		})
	}

	return nil
}

// StopTyping clears the typing flag immediately. The typing_stop
// notification fires only if the flag was still live.
func (t *Tracker) StopTyping(ctx context.Context, conversationID, userID string) error {
	now := time.Now()
	key := typingPrefix + conversationID

	t.purgeExpired(ctx, key, now)

	removed, err := t.rdb.ZRem(ctx, key, userID).Result()
	if err != nil {
		return fmt.Errorf("failed to clear typing flag: %w", err)
	}

	if removed > 0 {
		t.publish(ctx, models.Event{
			Kind:           models.EventTypingStop,
			ConversationID: conversationID,
			ParticipantID:  userID,
			At:             now,
		})
	}

	return nil
}

// CurrentTyping returns the participants whose typing flag has not
// expired. Filtering happens at read time by score, never by trusting
// eager eviction. The deadline itself is already expired: a flag with
// window W set at T reports not-typing for any read at or past T+W.
func (t *Tracker) CurrentTyping(ctx context.Context, conversationID string) ([]string, error) {
	members, err := t.rdb.ZRangeByScore(ctx, typingPrefix+conversationID, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", time.Now().UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read typing state: %w", err)
	}
	return members, nil
}

// purgeExpired drops entries whose deadline has passed so that ZAdd
// return values reflect real state transitions.
func (t *Tracker) purgeExpired(ctx context.Context, key string, now time.Time) {
	t.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", now.UnixMilli()))
}

// publish announces a state transition on the conversation's event
// channel. Best-effort: presence and typing are self-healing via
// expiry, so delivery failures are ignored.
func (t *Tracker) publish(ctx context.Context, event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	t.rdb.Publish(ctx, realtime.ConversationChannel(event.ConversationID), data)
}
