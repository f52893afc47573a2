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

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efconvo/backend/models"
)

// subscriptionBuffer is the per-subscriber event buffer. The hub is a
// best-effort relay: when a subscriber falls this far behind, events
// are dropped and the subscriber heals through reconciliation.
const subscriptionBuffer = 64

// Subscription is a handle on one channel subscription. Events arrive
// on C until Cancel is called; after Cancel no event is ever delivered,
// so no dangling callback can fire on a torn-down view.
type Subscription struct {
	C chan models.Event

	hub     *Hub
	channel string
	once    sync.Once
}

// Cancel removes the subscription from the hub. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub is the per-conversation broadcast relay. Local publishes are
// fanned out to in-process subscribers and mirrored over Redis pub/sub
// so subscribers in sibling processes receive them too. Incoming Redis
// events carrying this hub's own origin id are dropped, so every event
// is applied locally exactly once no matter which path carried it.
type Hub struct {
	origin string
	rdb    *redis.Client
	log    *slog.Logger

	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	bridges map[string]*redis.PubSub
	closed  bool
}

// NewHub creates a hub. rdb may be nil, in which case the hub relays to
// in-process subscribers only.
func NewHub(rdb *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		origin:  uuid.NewString(),
		rdb:     rdb,
		log:     log,
		subs:    make(map[string]map[*Subscription]struct{}),
		bridges: make(map[string]*redis.PubSub),
	}
}

// Origin returns the hub instance identifier stamped on published events.
func (h *Hub) Origin() string {
	return h.origin
}

// Subscribe joins a channel. The first subscriber on a channel opens
// the Redis bridge for it; the last one to cancel closes it.
func (h *Hub) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		C:       make(chan models.Event, subscriptionBuffer),
		hub:     h,
		channel: channel,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.C)
		return sub
	}

	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Subscription]struct{})
	}
	h.subs[channel][sub] = struct{}{}

	if h.rdb != nil {
		if _, ok := h.bridges[channel]; !ok {
			pubsub := h.rdb.Subscribe(context.Background(), channel)
			h.bridges[channel] = pubsub
			go h.bridgeLoop(channel, pubsub)
		}
	}

	return sub
}

// Publish relays an event to every subscriber of the channel except the
// listed ones (typically the publisher, which already holds the message
// from its own append). The Redis mirror is fire-and-forget: transport
// failure must never fail or block the caller.
func (h *Hub) Publish(ctx context.Context, channel string, event models.Event, exclude ...*Subscription) {
	event.Origin = h.origin
	h.deliverLocal(channel, event, exclude...)

	if h.rdb == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to encode event", "channel", channel, "error", err)
		return
	}
	if err := h.rdb.Publish(ctx, channel, data).Err(); err != nil {
		// Degrade silently: durable state is in the store and
		// subscribers reconcile against it.
		h.log.Warn("relay publish failed", "channel", channel, "error", err)
	}
}

// bridgeLoop applies events arriving from Redis (sibling processes, the
// presence tracker, the store's change feed) to local subscribers.
func (h *Hub) bridgeLoop(channel string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var event models.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			h.log.Warn("dropping malformed event", "channel", channel, "error", err)
			continue
		}
		if event.Origin == h.origin {
			// Our own publish echoed back; already delivered locally.
			continue
		}
		h.deliverLocal(channel, event)
	}
}

func (h *Hub) deliverLocal(channel string, event models.Event, exclude ...*Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[channel] {
		skip := false
		for _, ex := range exclude {
			if sub == ex {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		select {
		case sub.C <- event:
		default:
			// Subscriber is not draining; drop rather than block.
		}
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	subs := h.subs[sub.channel]
	if subs == nil {
		return
	}
	delete(subs, sub)
	close(sub.C)

	if len(subs) == 0 {
		delete(h.subs, sub.channel)
		if pubsub, ok := h.bridges[sub.channel]; ok {
			pubsub.Close()
			delete(h.bridges, sub.channel)
		}
	}
}

// Close cancels every subscription and bridge.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for channel, subs := range h.subs {
		for sub := range subs {
			close(sub.C)
		}
		delete(h.subs, channel)
	}
	for channel, pubsub := range h.bridges {
		pubsub.Close()
		delete(h.bridges, channel)
	}
}
