package rest

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"omnirelay/internal/broker"
	"omnirelay/internal/metrics"
	"omnirelay/internal/service"
	"omnirelay/internal/transport/rest/handler"
	"omnirelay/internal/transport/rest/middleware"
	"omnirelay/internal/transport/ws"
)

const (
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders = "Content-Type, Authorization"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService     *service.AuthService
	IdentityService *service.IdentityService
	Lifecycle       service.Lifecycle
	Broker          broker.Broker
	WSHandler       *ws.Handler
	AllowedOrigins  []string
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	serviceHandler := handler.NewServiceHandler(c.IdentityService, c.Lifecycle, c.Broker)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.AllowedOrigins))

	// Relay websocket, authorized by the first message
	r.HandleFunc("/ws", c.WSHandler.ServeWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	v1.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		metrics.WriteOnce(w)
	}).Methods("GET")

	// Admin routes
	adminRoutes := v1.NewRoute().Subrouter()
	adminRoutes.Use(authMW.RequireAdmin)

	adminRoutes.HandleFunc("/services", serviceHandler.List).Methods("GET", "OPTIONS")
	adminRoutes.HandleFunc("/services", serviceHandler.Create).Methods("POST", "OPTIONS")
	adminRoutes.HandleFunc("/services/{hostToken}", serviceHandler.Get).Methods("GET", "OPTIONS")
	adminRoutes.HandleFunc("/services/{hostToken}", serviceHandler.Update).Methods("PUT", "OPTIONS")
	adminRoutes.HandleFunc("/services/{hostToken}", serviceHandler.Delete).Methods("DELETE", "OPTIONS")
	adminRoutes.HandleFunc("/services/{hostToken}/live", serviceHandler.Live).Methods("GET", "OPTIONS")

	return r
}

// corsMiddleware allows every origin when origins is empty, otherwise
// echoes back the request origin when it is listed
func corsMiddleware(origins []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allow := allowOrigin(origins, r.Header.Get("Origin")); allow != "" {
				w.Header().Set("Access-Control-Allow-Origin", allow)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowOrigin(origins []string, origin string) string {
	if len(origins) == 0 {
		return "*"
	}
	for _, o := range origins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
