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
	"sort"
	"sync"
	"time"

	"github.com/efchatnet/efconvo/backend/models"
)

// View is the client-side message view: an ordered-by-timestamp,
// deduplicated-by-identifier sequence of messages. The same message may
// arrive through the relay channel, the change feed and a
// reconciliation poll; Apply keeps exactly one copy regardless of
// arrival order, which is what turns the at-least-once transports into
// effectively-once delivery per view.
type View struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	msgs      []models.Message
	lastKnown time.Time
}

func NewView() *View {
	return &View{seen: make(map[string]struct{})}
}

// Apply inserts a message in (created_at, id) order. Returns false if
// the message was already present.
func (v *View) Apply(msg models.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.seen[msg.ID]; ok {
		return false
	}
	v.seen[msg.ID] = struct{}{}

	i := sort.Search(len(v.msgs), func(i int) bool {
		return msg.Before(v.msgs[i])
	})
	v.msgs = append(v.msgs, models.Message{})
	copy(v.msgs[i+1:], v.msgs[i:])
	v.msgs[i] = msg

	if msg.CreatedAt.After(v.lastKnown) {
		v.lastKnown = msg.CreatedAt
	}
	return true
}

// Messages returns a copy of the ordered view.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

// Len returns the number of messages in the view.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.msgs)
}

// LastKnown returns the latest creation timestamp applied, used as the
// lower bound for reconciliation polls. The bound is inclusive on the
// store side; re-delivered boundary messages are dropped by Apply.
func (v *View) LastKnown() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastKnown
}
