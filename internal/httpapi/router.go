// Package httpapi is the request/response surface. Handlers are thin
// adaptors: parse, call the service, translate errors, wrap the envelope.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/auth"
	"github.com/switchboard-io/switchboard-api/internal/bus"
	"github.com/switchboard-io/switchboard-api/internal/config"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
	"github.com/switchboard-io/switchboard-api/internal/store"
)

// Broadcaster delivers a persisted message to live sessions. Implemented by
// the session hub; nil disables realtime delivery of REST sends.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, view *chatservice.MessageView, participantIDs []string)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	Chat    *chatservice.Service
	Store   *store.Store
	Bus     bus.Bus
	Cfg     *config.Config
	Fanout  Broadcaster
	// WSHandler is mounted at GET /ws; it runs outside the request timeout
	// because sessions are long-lived.
	WSHandler http.Handler
}

// Routes builds the router: public health and metrics, then the
// authenticated /api/v1 tree behind CORS, rate limiting and the request
// deadline.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", auth.HeaderTenantID, HeaderRequestID},
		ExposedHeaders:   []string{HeaderRequestID, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: !s.Cfg.AllowAllOrigins(),
	})
	r.Use(c.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.WSHandler != nil {
		r.Method(http.MethodGet, "/ws", s.WSHandler)
	}

	limiter := NewRateLimiter(s.Cfg.RateLimitMax, s.Cfg.RateLimitWindow())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter))

		r.Get("/health", s.handleHealth)
		r.Get("/health/detailed", s.handleHealthDetailed)
		r.Get("/ready", s.handleReady)
		r.Get("/live", s.handleLive)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(auth.JWTCfg{
				HS256Secret: s.Cfg.IdentityVerifierSecret,
				DevMode:     s.Cfg.DevMode,
			}))
			r.Use(auth.TenantOverrideMiddleware())
			r.Use(TimeoutMiddleware(s.Cfg.RequestTimeout()))

			r.Get("/me", s.handleMe)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", s.handleListConversations)
				r.Post("/", s.handleCreateConversation)
				r.Get("/{id}", s.handleGetConversation)
				r.Get("/{id}/participants", s.handleGetParticipants)
				r.Post("/{id}/read", s.handleMarkRead)
				r.Get("/{id}/messages", s.handleListMessages)
				r.Post("/{id}/messages", s.handleSendMessage)
				r.Get("/{id}/messages/{mid}", s.handleGetMessage)
			})

			r.Get("/messages/unread", s.handleUnreadCount)

			r.Route("/contacts", func(r chi.Router) {
				r.Get("/requests", s.handleReceivedRequests)
				r.Get("/requests/sent", s.handleSentRequests)
				r.Post("/requests", s.handleCreateRequest)
				r.Post("/requests/{id}/respond", s.handleRespondRequest)
				r.Post("/block", s.handleBlock)
				r.Delete("/block/{userId}", s.handleUnblock)
				r.Get("/blocked", s.handleListBlocked)
				r.Get("/can-message/{userId}", s.handleCanMessage)
			})
		})
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
