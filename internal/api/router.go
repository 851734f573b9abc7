package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/internal/auth"
	"github.com/nexus-im/ghost/internal/blob"
	"github.com/nexus-im/ghost/internal/chat"
	"github.com/nexus-im/ghost/internal/hub"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Chat      *chat.Service
	Blobs     blob.Store
	UploadDir string
	Registry  *hub.Registry
	Verifier  *auth.Verifier
	// Checks are run by /health; a failing check reports 503.
	Checks map[string]func(context.Context) error
	Logger zerolog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	h := &Handler{
		chat:     d.Chat,
		blobs:    d.Blobs,
		registry: d.Registry,
		verifier: d.Verifier,
		checks:   d.Checks,
		logger:   d.Logger,
	}

	r := chi.NewRouter()

	r.Use(recordMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.health)
	r.Get("/ws", h.serveWS)
	if d.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.UploadDir))))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(d.Verifier.Require)

		r.Route("/messages", func(r chi.Router) {
			r.Post("/conversation", h.createConversation)
			r.Get("/conversations/recent", h.recentConversations)
			r.Post("/", h.sendMessage)
			r.Get("/{id}", h.listMessages) // id is a conversation ID here
			r.Put("/{id}", h.editMessage)
			r.Delete("/{id}", h.deleteMessage)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.listNotifications)
			r.Post("/", h.createNotification)
			r.Put("/{id}/read", h.markNotificationRead)
		})
	})

	return r
}
