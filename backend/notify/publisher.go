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

// Package notify feeds the push-notification pipeline. Messages
// appended while the recipient is away are announced on a topic
// exchange; the push worker consuming it owns device tokens and
// delivery. Publishing is fire-and-forget and never fails a send.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/efchatnet/efconvo/backend/models"
)

const previewLength = 120

// PushNotification is the payload handed to the push worker.
type PushNotification struct {
	RecipientID    string            `json:"recipient_id"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	ConversationID string            `json:"conversation_id"`
	Data           map[string]string `json:"data,omitempty"`
	SentAt         time.Time         `json:"sent_at"`
}

// Publisher publishes push notifications to a RabbitMQ topic exchange.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

func New(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		exchange: exchange,
		log:      logger,
	}, nil
}

// NotifyMessage publishes a preview of a freshly appended message to
// the recipient's routing key. Runs asynchronously; failures are
// logged and dropped.
func (p *Publisher) NotifyMessage(ctx context.Context, recipientID string, msg models.Message) {
	notification := PushNotification{
		RecipientID:    recipientID,
		Title:          "New message",
		Body:           preview(msg),
		ConversationID: msg.ConversationID,
		Data: map[string]string{
			"message_id": msg.ID,
			"sender_id":  msg.SenderID,
			"type":       string(msg.Type),
		},
		SentAt: time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.publish(ctx, "notifications.push."+recipientID, notification); err != nil {
			p.log.Warn("push notification dropped", "recipient", recipientID, "error", err)
		}
	}()
}

func (p *Publisher) publish(ctx context.Context, key string, notification PushNotification) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}

func preview(msg models.Message) string {
	if msg.Type == models.MessagePoll {
		return "Sent a poll"
	}
	runes := []rune(msg.Content)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "…"
	}
	return msg.Content
}
