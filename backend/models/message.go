// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// MessageType tags the payload of a message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessagePoll   MessageType = "poll"
	MessageSystem MessageType = "system"
)

// MaxContentLength is the maximum accepted length of text content.
const MaxContentLength = 2000

// Message is one entry in a conversation's append-only log. SenderID is
// empty for system messages; Content is empty when the message is a
// structured attachment (PollID set). Messages are never mutated after
// creation.
type Message struct {
	ID             string      `json:"id" db:"message_id"`
	ConversationID string      `json:"conversation_id" db:"conversation_id"`
	SenderID       string      `json:"sender_id,omitempty" db:"sender_id"`
	Content        string      `json:"content,omitempty" db:"content"`
	Type           MessageType `json:"type" db:"message_type"`
	PollID         string      `json:"poll_id,omitempty" db:"poll_id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// Before reports whether m sorts before other in the log's total order:
// creation timestamp ascending, ties broken by identifier.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
