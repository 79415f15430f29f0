package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/events", s.HandleEvents)                          // Storage notification batches and handshakes
	mux.HandleFunc("GET /api/jobs", s.corsMiddleware(s.HandleListJobs))         // Paginated job list
	mux.HandleFunc("GET /api/jobs/{id}", s.corsMiddleware(s.HandleGetJob))      // Single job
	mux.HandleFunc("GET /api/deadletters", s.corsMiddleware(s.HandleListDeadLetters))
	mux.HandleFunc("GET /api/deadletters/{id}", s.corsMiddleware(s.HandleGetDeadLetter))
	mux.HandleFunc("GET /api/documents/{id}", s.corsMiddleware(s.HandleGetDocument))
	mux.HandleFunc("GET /api/sources", s.corsMiddleware(s.HandleListSources))
	mux.HandleFunc("GET /api/stats", s.corsMiddleware(s.HandleStats))
	mux.HandleFunc("OPTIONS /api/", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
	mux.HandleFunc("GET /ws/jobs", s.HandleJobStream) // Live job updates (WebSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", s.HandleHealth)

	return mux
}

// corsMiddleware adds CORS headers for allowed origins to the read API
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// checkOrigin validates a browser origin against server.allowed_origins.
// Requests without an Origin header are not browser requests and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
