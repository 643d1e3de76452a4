package server

import (
	"net/http"

	"github.com/desertthunder/sharelist/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP handler for the share API.
//
// Extra middlewares run after the built-in stack.
func (s *Server) Router(middlewares ...Middleware) chi.Router {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		RequestLogger(s.logger),
		metrics.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}),
	)
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, r, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/share", s.handleCreateShare)
	if s.opts.Refresher != nil {
		r.Post("/refresh-token", s.handleRefreshToken)
	}

	r.Route("/playlist/{shareCode}", func(r chi.Router) {
		r.Use(ShareRateLimiter(s.opts.RateLimit, s.opts.RateBurst))

		r.Get("/", s.handleShowShare)
		r.Post("/tracks", s.handleListTracks)
		r.Post("/search", s.handleSearch)
		r.Post("/tracks:add", s.handleAddTrack)
		r.Delete("/tracks", s.handleRemoveTrack)
	})

	return r
}
