// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

// Redis channel naming. One logical channel per conversation for
// relayed events, one private channel per user for out-of-band events,
// and one feed channel per conversation for row-insert notifications
// published by the store.
const (
	conversationPrefix = "convo:events:"
	userPrefix         = "convo:user:"
	feedPrefix         = "convo:feed:"
)

func ConversationChannel(conversationID string) string {
	return conversationPrefix + conversationID
}

func UserChannel(userID string) string {
	return userPrefix + userID
}

func FeedChannel(conversationID string) string {
	return feedPrefix + conversationID
}
