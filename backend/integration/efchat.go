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

package integration

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efconvo/backend/chat"
	"github.com/efchatnet/efconvo/backend/handlers"
	"github.com/efchatnet/efconvo/backend/middleware"
	"github.com/efchatnet/efconvo/backend/realtime"
	"github.com/efchatnet/efconvo/backend/storage/postgres"
	redisstore "github.com/efchatnet/efconvo/backend/storage/redis"
)

// ChatIntegration provides the conversation subsystem as a plugin for
// the efchat server: the host brings its own database, Redis and auth,
// and attaches its socket layer to Service().Subscribe.
type ChatIntegration struct {
	store     *postgres.Store
	hub       *realtime.Hub
	service   *chat.Service
	jwtSecret string
	jwtIssuer string
}

// Config holds configuration for the chat integration
type Config struct {
	DB        *sql.DB
	Redis     *redis.Client
	JWTSecret string
	JWTIssuer string
	Notifier  chat.Notifier
	Logger    *slog.Logger
}

// New creates a chat integration that can be embedded into efchat
func New(config *Config) (*ChatIntegration, error) {
	store := postgres.NewStore(config.DB, config.Redis)
	if err := store.Migrate(); err != nil {
		return nil, err
	}

	hub := realtime.NewHub(config.Redis, config.Logger)
	tracker := redisstore.NewTracker(config.Redis)

	var opts []chat.Option
	if config.Notifier != nil {
		opts = append(opts, chat.WithNotifier(config.Notifier))
	}
	service := chat.NewService(store, hub, tracker, config.Redis, config.Logger, opts...)

	return &ChatIntegration{
		store:     store,
		hub:       hub,
		service:   service,
		jwtSecret: config.JWTSecret,
		jwtIssuer: config.JWTIssuer,
	}, nil
}

// Service exposes the coordination core for the host's socket layer.
func (c *ChatIntegration) Service() *chat.Service {
	return c.service
}

// RegisterRoutes adds chat routes to an existing router.
// If authMiddleware is nil, it will use the built-in JWT validation.
func (c *ChatIntegration) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix("/api/chat").Subrouter()

	if authMiddleware == nil {
		authMiddleware = middleware.NewAuthMiddleware(c.jwtSecret, c.jwtIssuer)
	}
	api.Use(authMiddleware)

	conversationHandler := handlers.NewConversationHandler(c.service)
	messageHandler := handlers.NewMessageHandler(c.service)
	presenceHandler := handlers.NewPresenceHandler(c.service)

	api.HandleFunc("/conversations/direct", conversationHandler.OpenDirect).Methods("POST")
	api.HandleFunc("/conversations/team", conversationHandler.OpenTeam).Methods("POST")
	api.HandleFunc("/inbox", conversationHandler.Inbox).Methods("GET")
	api.HandleFunc("/invitations", conversationHandler.SendInvitation).Methods("POST")

	api.HandleFunc("/conversations/{conversationId}/messages", messageHandler.Send).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/messages", messageHandler.List).Methods("GET")

	api.HandleFunc("/conversations/{conversationId}/presence", presenceHandler.GetPresence).Methods("GET")
	api.HandleFunc("/conversations/{conversationId}/presence/heartbeat", presenceHandler.Heartbeat).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/typing", presenceHandler.SetTyping).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/typing", presenceHandler.GetTyping).Methods("GET")
}

// Close releases the relay hub and its Redis bridges.
func (c *ChatIntegration) Close() {
	c.hub.Close()
}
