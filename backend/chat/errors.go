// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import "errors"

var (
	// ErrValidation marks user-visible input errors (empty or oversized
	// content, self-addressed DM). Not retried; the caller keeps the
	// composed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks identity errors: missing user, or a sender
	// that is not a participant of the conversation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConversationResolution is returned when the insert loses the
	// create race and the winning row still cannot be read back.
	ErrConversationResolution = errors.New("conversation resolution failed")
)
