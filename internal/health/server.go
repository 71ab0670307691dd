// Package health serves liveness and readiness checks for the gateway.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/docgen"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Check tests one dependency. A nil error means ready.
type Check func(ctx context.Context) error

// Config describes the health server.
type Config struct {
	Addr         string
	CheckTimeout time.Duration
}

// Server exposes /healthz and /readyz.
type Server struct {
	cfg    Config
	checks map[string]Check
	router chi.Router
	logger zerolog.Logger
}

// NewServer builds the health server. Checks are keyed by the name reported
// in the readiness response.
func NewServer(cfg Config, checks map[string]Check, logger zerolog.Logger) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("health: address is required")
	}
	if cfg.CheckTimeout <= 0 {
		return nil, errors.New("health: check timeout must be positive")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &Server{cfg: cfg, checks: make(map[string]Check, len(checks)), logger: logger}
	for name, p := range checks {
		if p == nil {
			return nil, fmt.Errorf("health: check %q is nil", name)
		}
		s.checks[name] = p
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("health server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("health: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	s.logger.Info().Msg("health server stopped")
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", s.liveness)
	r.Get("/readyz", s.readiness)
	return r
}

// GET /healthz
//
// HTTP 200 - {"status": "ok"}
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, &statusResponse{HTTPStatusCode: http.StatusOK, Status: statusOK})
}

// GET /readyz
//
// HTTP 200 - {"status": "ok", "checks": {"broker": "ok", "database": "ok"}}
// HTTP 503 - {"status": "unavailable", "checks": {"broker": "connection closed", ...}}
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(s.checks))
	ready := true

	for _, name := range s.checkNames() {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CheckTimeout)
		err := s.checks[name](ctx)
		cancel()
		if err != nil {
			ready = false
			results[name] = err.Error()
			s.logger.Warn().Err(err).Str("check", name).Msg("readiness check failed")
			continue
		}
		results[name] = statusOK
	}

	resp := &statusResponse{HTTPStatusCode: http.StatusOK, Status: statusOK, Checks: results}
	if !ready {
		resp.HTTPStatusCode = http.StatusServiceUnavailable
		resp.Status = statusUnavailable
	}
	render.Render(w, r, resp)
}

func (s *Server) checkNames() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoutesDoc renders the health routes as Markdown.
func RoutesDoc() string {
	s := &Server{logger: zerolog.Nop()}
	return docgen.MarkdownRoutesDoc(s.routes(), docgen.MarkdownOpts{
		ProjectPath: "github.com/example/payments-gateway",
		Intro:       "Liveness and readiness checks of the payments gateway.",
	})
}
