package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-nova/tscadc-go/internal/auth"
)

// NewRouter creates and returns the main HTTP router. Operating endpoints are
// gated by authSvc when it is non-nil.
func NewRouter(devs Devices, authSvc *auth.Service, bus EventBus) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{devs: devs, events: bus}

	r.Get("/api/devices", h.getDevices)
	r.Get("/api/devices/{name}", h.getDevice)
	r.Get("/api/subscribe", h.sseEvents)

	r.Group(func(r chi.Router) {
		if authSvc != nil {
			r.Use(authSvc.Middleware)
		}
		r.Post("/api/devices/{name}/bind", h.bindDevice)
		r.Post("/api/devices/{name}/unbind", h.unbindDevice)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+auth.KeyHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
