// Package status serves the agent's safety state over local HTTP for a UI
// layer.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safewatch/internal/incidents"
	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/internal/notify"
	"github.com/sells-group/safewatch/pkg/api"
)

// Source is what the server reads from and acts on.
type Source interface {
	Safety() model.SafetyStatus
	Zones() []model.SafeZone
	Incidents() []incidents.Entry
	IncidentCounts() incidents.Counts
	Notifications() []notify.Notification
	Health() Health
	Panic(ctx context.Context, req api.PanicRequest) (*model.PanicAlert, error)
}

// Health is the agent's component state.
type Health struct {
	Authenticated bool   `json:"authenticated"`
	Realtime      bool   `json:"realtime_connected"`
	Backend       string `json:"backend_circuit"`
	Zones         int    `json:"zones"`
	Tracking      bool   `json:"tracking"`
}

// Server is the status HTTP server.
type Server struct {
	src     Source
	origins []string
}

// New creates a server over src. Browser requests are served only for
// allowedOrigins; an empty list disables CORS and refuses any request that
// carries an Origin header.
func New(src Source, allowedOrigins []string) *Server {
	return &Server{src: src, origins: allowedOrigins}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(s.checkOrigin)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/zones", s.handleZones)
	r.Get("/incidents", s.handleIncidents)
	r.Get("/notifications", s.handleNotifications)
	r.With(requireJSON).Post("/panic", s.handlePanic)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down status server", zap.String("component", "status"))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting status server", zap.String("component", "status"), zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "status: listen")
	}
	return nil
}

// checkOrigin refuses browser requests from origins that are not allowed.
// Requests without an Origin header come from local tools and pass.
func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !slices.Contains(s.origins, "*") && !slices.Contains(s.origins, origin) {
			zap.L().Warn("refusing cross-origin request",
				zap.String("component", "status"),
				zap.String("origin", origin),
				zap.String("path", r.URL.Path),
			)
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireJSON rejects bodies that are not application/json. Browsers must
// preflight such requests, so a page cannot post one blind.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.src.Health()
	code := http.StatusOK
	if !h.Authenticated {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Safety())
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	zones := s.src.Zones()
	if zones == nil {
		zones = []model.SafeZone{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"safeZones": zones})
}

func (s *Server) handleIncidents(w http.ResponseWriter, _ *http.Request) {
	entries := s.src.Incidents()
	if entries == nil {
		entries = []incidents.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": entries,
		"counts": s.src.IncidentCounts(),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	items := s.src.Notifications()
	if items == nil {
		items = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

type panicBody struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Severity    string   `json:"severity"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
}

// handlePanic raises a panic alert at the given coordinate, or at the last
// known location when none is given.
func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	var body panicBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	req := api.PanicRequest{Severity: body.Severity, Type: body.Type, Description: body.Description}
	switch {
	case body.Lat != nil && body.Lng != nil:
		req.Lat, req.Lng = *body.Lat, *body.Lng
	case body.Lat == nil && body.Lng == nil:
		loc := s.src.Safety().Location
		if loc.Lat == 0 && loc.Lng == 0 {
			writeError(w, http.StatusConflict, "no known location")
			return
		}
		req.Lat, req.Lng = loc.Lat, loc.Lng
	default:
		writeError(w, http.StatusBadRequest, "lat and lng must be given together")
		return
	}

	alert, err := s.src.Panic(r.Context(), req)
	if err != nil {
		code := http.StatusBadGateway
		if api.KindOf(err) == api.KindValidation {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("status: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg, "status": fmt.Sprint(code)})
}
