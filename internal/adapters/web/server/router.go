package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lcalzada-xor/mlomgr/internal/adapters/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()

	decodeLimiter := middleware.NewRateLimiter(30, time.Minute)

	r.HandleFunc("/healthz", s.StateHandler.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/events", s.WSManager.HandleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/mld", s.StateHandler.HandleListMLDs).Methods(http.MethodGet)
	api.HandleFunc("/mld/{addr}", s.StateHandler.HandleGetMLD).Methods(http.MethodGet)
	api.HandleFunc("/groups", s.StateHandler.HandleListGroups).Methods(http.MethodGet)
	api.HandleFunc("/events", s.EventHandler.HandleList).Methods(http.MethodGet)
	api.Handle("/decode", middleware.RateLimitMiddleware(decodeLimiter)(http.HandlerFunc(s.DecodeHandler.HandleDecode))).
		Methods(http.MethodPost)

	return r
}
