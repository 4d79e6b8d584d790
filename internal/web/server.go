// Package web exposes the compliance snapshot, the CSV report, service
// status and the OAuth consent flow over HTTP.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"calmonitor/internal/auth"
	"calmonitor/internal/compliance"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
)

// Runner is the compliance engine the handlers call.
type Runner interface {
	CheckDay(ctx context.Context, sess auth.Session, date model.Date) (*compliance.AggregateCheckResult, error)
	BuildReport(ctx context.Context, sess auth.Session, days int) (*compliance.Matrix, error)
	Today() model.Date
	Settings() compliance.Settings
}

// OAuthFlow is the consent flow of an OAuth-backed session, satisfied by
// *auth.TokenStore.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
}

// Options wires a Server.
type Options struct {
	Runner  Runner
	Session auth.Session
	Roster  compliance.Roster
	// OAuth is nil for providers without a consent flow; /auth then
	// answers 404.
	OAuth OAuthFlow
	// ReportDays is the default for /api/generate-report.
	ReportDays int
	// NextCheck reports the next scheduled run; nil when the scheduler is
	// disabled.
	NextCheck func() time.Time

	AllowedOrigins []string
	// RequestTimeout bounds a snapshot or report request. Zero means 10
	// minutes.
	RequestTimeout time.Duration
}

// Server routes the HTTP API.
type Server struct {
	opts   Options
	router chi.Router

	statesMu sync.Mutex
	states   map[string]time.Time
}

const oauthStateTTL = 10 * time.Minute

func NewServer(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Minute
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000"}
	}
	s := &Server{
		opts:   opts,
		states: make(map[string]time.Time),
	}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(requestLogFormatter{}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/auth", s.handleAuth)
	r.Get("/oauth2callback", s.handleOAuthCallback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/check-calendars", s.handleCheckCalendars)
		r.Get("/generate-report", s.handleGenerateReport)
	})
	return r
}

// Serve runs an http.Server on addr until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
