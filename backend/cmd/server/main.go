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

package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efconvo/backend/chat"
	"github.com/efchatnet/efconvo/backend/handlers"
	"github.com/efchatnet/efconvo/backend/middleware"
	"github.com/efchatnet/efconvo/backend/notify"
	"github.com/efchatnet/efconvo/backend/realtime"
	"github.com/efchatnet/efconvo/backend/storage/postgres"
	redisstore "github.com/efchatnet/efconvo/backend/storage/redis"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Database connection
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost/efconvo?sslmode=disable"
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Redis connection (change feed, relay bridge, presence)
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Initialize storage
	store := postgres.NewStore(db, rdb)

	// Run migrations
	if err := store.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Realtime relay and presence tracker
	hub := realtime.NewHub(rdb, logger)
	defer hub.Close()
	tracker := redisstore.NewTracker(rdb)

	// Optional push-notification egress
	var opts []chat.Option
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		exchange := os.Getenv("AMQP_EXCHANGE")
		if exchange == "" {
			exchange = "efconvo.notifications"
		}
		publisher, err := notify.New(amqpURL, exchange, logger)
		if err != nil {
			log.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		defer publisher.Close()
		opts = append(opts, chat.WithNotifier(publisher))
	}

	service := chat.NewService(store, hub, tracker, rdb, logger, opts...)

	// Initialize handlers
	conversationHandler := handlers.NewConversationHandler(service)
	messageHandler := handlers.NewMessageHandler(service)
	presenceHandler := handlers.NewPresenceHandler(service)

	// Get JWT configuration from environment
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	jwtIssuer := os.Getenv("JWT_ISSUER")
	if jwtIssuer == "" {
		jwtIssuer = "efchat"
	}

	// Create auth middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtSecret, jwtIssuer)

	// Setup router
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(middleware.CORS)

	// API routes
	api := r.PathPrefix("/api/chat").Subrouter()
	api.Use(authMiddleware)

	// Conversation directory and inbox
	api.HandleFunc("/conversations/direct", conversationHandler.OpenDirect).Methods("POST")
	api.HandleFunc("/conversations/team", conversationHandler.OpenTeam).Methods("POST")
	api.HandleFunc("/inbox", conversationHandler.Inbox).Methods("GET")
	api.HandleFunc("/invitations", conversationHandler.SendInvitation).Methods("POST")

	// Message log
	api.HandleFunc("/conversations/{conversationId}/messages", messageHandler.Send).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/messages", messageHandler.List).Methods("GET")

	// Presence and typing
	api.HandleFunc("/conversations/{conversationId}/presence", presenceHandler.GetPresence).Methods("GET")
	api.HandleFunc("/conversations/{conversationId}/presence/heartbeat", presenceHandler.Heartbeat).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/typing", presenceHandler.SetTyping).Methods("POST")
	api.HandleFunc("/conversations/{conversationId}/typing", presenceHandler.GetTyping).Methods("GET")

	// Health check (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Conversation server starting on port %s", port)
		log.Printf("JWT Issuer: %s", jwtIssuer)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
