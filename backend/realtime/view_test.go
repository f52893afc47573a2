// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"testing"
	"time"

	"github.com/efchatnet/efconvo/backend/models"
)

func msgAt(id string, at time.Time) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "dm_1",
		SenderID:       "alice",
		Content:        "hello",
		Type:           models.MessageText,
		CreatedAt:      at,
	}
}

func TestViewDeduplicates(t *testing.T) {
	v := NewView()
	t0 := time.Now()

	m := msgAt("m1", t0)
	if !v.Apply(m) {
		t.Fatal("first apply must report a new message")
	}
	// Same message via the other transport, then via a reconcile poll
	if v.Apply(m) {
		t.Error("second apply must be a no-op")
	}
	if v.Apply(m) {
		t.Error("third apply must be a no-op")
	}

	if v.Len() != 1 {
		t.Errorf("expected exactly one copy, got %d", v.Len())
	}
}

func TestViewOrdersByTimestampNotArrival(t *testing.T) {
	v := NewView()
	t0 := time.Now()

	// The later message's relay event arrives first
	m2 := msgAt("m2", t0.Add(time.Second))
	m1 := msgAt("m1", t0)
	v.Apply(m2)
	v.Apply(m1)

	msgs := v.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("expected [m1 m2], got [%s %s]", msgs[0].ID, msgs[1].ID)
	}
}

func TestViewTieBreaksByID(t *testing.T) {
	v := NewView()
	t0 := time.Now()

	v.Apply(msgAt("b", t0))
	v.Apply(msgAt("a", t0))

	msgs := v.Messages()
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("expected [a b], got [%s %s]", msgs[0].ID, msgs[1].ID)
	}
}

func TestViewLastKnown(t *testing.T) {
	v := NewView()
	if !v.LastKnown().IsZero() {
		t.Error("empty view must report zero last-known timestamp")
	}

	t0 := time.Now()
	v.Apply(msgAt("m2", t0.Add(time.Second)))
	v.Apply(msgAt("m1", t0)) // out-of-order arrival must not move the bound back

	if !v.LastKnown().Equal(t0.Add(time.Second)) {
		t.Errorf("expected last known %v, got %v", t0.Add(time.Second), v.LastKnown())
	}
}
