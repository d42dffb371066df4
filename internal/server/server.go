// Package server mounts the HTTP API on a chi router and runs it with
// graceful shutdown.
//
// Server only wires; the services it routes to are built by the caller
// (internal/app), so tests can mount the same routes over an in-memory
// store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/contact-tracker/internal/auth"
	"github.com/sakif/contact-tracker/internal/handler"
	"github.com/sakif/contact-tracker/internal/middleware"
	"github.com/sakif/contact-tracker/internal/service"
)

// Deps are the services behind the routes.
type Deps struct {
	Auth     *service.AuthService
	Tokens   *auth.TokenService
	Contacts *service.ContactService
	Exports  *service.ExportService
	Health   handler.Pinger
}

// Server is the HTTP front end.
type Server struct {
	addr   string
	router *chi.Mux
	logger *slog.Logger

	// ShutdownTimeout bounds how long in-flight requests may run after
	// the context passed to Start is done.
	ShutdownTimeout time.Duration
}

// New builds the router.
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		addr:            addr,
		router:          chi.NewRouter(),
		logger:          logger,
		ShutdownTimeout: 30 * time.Second,
	}
	s.setupRoutes(deps)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes mounts:
//
//	GET    /health           store reachability, public
//	POST   /auth/telegram    WebApp init data → bearer token, public
//	GET    /me               account settings
//	PATCH  /me
//	GET    /contacts         ?limit=&offset=
//	POST   /contacts
//	GET    /contacts/{id}
//	PATCH  /contacts/{id}
//	DELETE /contacts/{id}
//	GET    /stats
//	POST   /export           reconcile the spreadsheet now
//
// Middleware order: RequestID first so the logger can read it, Recoverer
// last so a panic is still logged with its status.
func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	authH := handler.NewAuthHandler(deps.Auth, s.logger)
	contactH := handler.NewContactHandler(deps.Contacts, s.logger)
	exportH := handler.NewExportHandler(deps.Exports, deps.Auth, s.logger)
	healthH := handler.NewHealthHandler(deps.Health, s.logger)

	s.router.Get("/health", healthH.HandleHealth)
	s.router.Post("/auth/telegram", authH.HandleTelegramLogin)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.Tokens))

		r.Get("/me", authH.HandleMe)
		r.Patch("/me", authH.HandleUpdateMe)

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", contactH.HandleList)
			r.Post("/", contactH.HandleCreate)
			r.Get("/{id}", contactH.HandleGetByID)
			r.Patch("/{id}", contactH.HandleUpdate)
			r.Delete("/{id}", contactH.HandleDelete)
		})

		r.Get("/stats", contactH.HandleStats)
		r.Post("/export", exportH.HandleExport)
	})
}

// Start serves until ctx is done, then drains in-flight requests for up to
// ShutdownTimeout. A listener error is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// POST /export walks the whole spreadsheet.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}
