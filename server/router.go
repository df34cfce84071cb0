package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/FahadPatwary/seriousserver/domain"
	"github.com/FahadPatwary/seriousserver/hub"
	"github.com/FahadPatwary/seriousserver/metrics"
)

type StatsSource interface {
	Stats() (rooms, clients int)
}

type Options struct {
	WS             http.Handler
	Stats          StatsSource
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// NewRouter mounts the websocket endpoint next to the plain HTTP probes.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	r.Use(c.Handler)

	r.Handle("/ws", opts.WS)
	r.Get("/health", healthHandler)
	r.Get("/stats", statsHandler(opts.Stats))
	r.Post("/rooms", createRoomHandler)
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statsHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, clients := src.Stats()
		writeJSON(w, http.StatusOK, map[string]int{"rooms": rooms, "clients": clients})
	}
}

func createRoomHandler(w http.ResponseWriter, r *http.Request) {
	code, err := hub.NewRoomCode()
	if err != nil {
		slog.Error("create room", "error", err)
		writeJSON(w, http.StatusInternalServerError, domain.ClientError(err))
		return
	}
	writeJSON(w, http.StatusCreated, domain.RoomRef{RoomCode: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

// NewHTTPServer wraps the router with the timeouts used in production.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
