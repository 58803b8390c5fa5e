// Package server wires the dependency graph and the router.
//
// DEPENDENCY INJECTION FLOW:
//
//	config → sqlite.DB ─┬→ AuthService (+ TokenService, PasswordService, email.Service)
//	                    └→ ApplicationService (+ storage.DiskStore)
//	services → handlers → chi routes
//
// Everything is assembled in New, the composition root. No other package
// constructs its own dependencies.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/job-tracker/internal/auth"
	"github.com/sakif/job-tracker/internal/config"
	"github.com/sakif/job-tracker/internal/email"
	"github.com/sakif/job-tracker/internal/handler"
	"github.com/sakif/job-tracker/internal/middleware"
	sqliteRepo "github.com/sakif/job-tracker/internal/repository/sqlite"
	"github.com/sakif/job-tracker/internal/service"
	"github.com/sakif/job-tracker/internal/storage"
)

// limiterSweepInterval is how often idle per-IP limiters are dropped.
const limiterSweepInterval = time.Minute

// Server owns the router and every long-lived resource behind it. The
// database is closed and pending reset emails are flushed on shutdown.
type Server struct {
	router      *chi.Mux
	config      *config.Config
	logger      *slog.Logger
	db          *sqliteRepo.DB
	authService *service.AuthService
	limiter     *middleware.IPRateLimiter
}

// New opens the database and upload directory and builds the router.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Server.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		limiter: middleware.NewIPRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst),
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes configures middleware and routes.
//
// ROUTES:
//
//	GET    /health
//	POST   /auth/register            rate-limited
//	POST   /auth/login               rate-limited
//	GET    /auth/google              only when Google is configured
//	GET    /auth/google/callback     only when Google is configured
//	GET    /auth/user                bearer
//	POST   /auth/logout
//	POST   /auth/forgot-password     rate-limited
//	POST   /auth/reset-password/{token} rate-limited
//	/applications (CRUD)             bearer
//	GET    /uploads/*                stored resumes
//
// MIDDLEWARE ORDER MATTERS: RealIP must run before the rate limiter, which
// keys on RemoteAddr, and RequestID before Logger, which logs the ID. RealIP
// is only installed with TRUST_PROXY; otherwise any client could pick its
// own rate-limit bucket through X-Forwarded-For.
func (s *Server) setupRoutes() error {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		User:     cfg.Email.SMTPUser,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.From,
	}, s.logger)
	s.authService = service.NewAuthService(s.db, tokens, auth.NewPasswordService(), mailer, cfg.Server.FrontendURL, s.logger)

	resumes, err := storage.NewDiskStore(cfg.Storage.UploadDir, cfg.Server.PublicURL, cfg.Storage.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("creating resume store: %w", err)
	}
	applicationService := service.NewApplicationService(s.db, resumes, s.logger)

	var google handler.OAuthProvider
	if cfg.Google.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
	} else {
		s.logger.Warn("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, Google sign-in is disabled")
	}

	authHandler := handler.NewAuthHandler(s.authService, google, cfg.Server.FrontendURL, !cfg.Server.IsDevelopment(), s.logger)
	applicationHandler := handler.NewApplicationHandler(applicationService, resumes.MaxBytes(), s.logger)

	// === Global Middleware ===
	r := s.router
	r.Use(chimiddleware.RequestID)
	if cfg.Server.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.TrustedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Total-Count", "X-Page", "X-Limit", "X-Total-Pages"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	requireAuth := auth.RequireAuth(s.authService)
	rateLimit := middleware.RateLimit(s.limiter)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit)
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/forgot-password", authHandler.HandleForgotPassword)
			r.Post("/reset-password/{token}", authHandler.HandleResetPassword)
		})

		if google != nil {
			r.Get("/google", authHandler.HandleGoogleLogin)
			r.Get("/google/callback", authHandler.HandleGoogleCallback)
		}

		r.With(requireAuth).Get("/user", authHandler.HandleCurrentUser)
		r.Post("/logout", authHandler.HandleLogout)
	})

	r.Route("/applications", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/", applicationHandler.HandleCreate)
		r.Get("/", applicationHandler.HandleList)
		r.Get("/{id}", applicationHandler.HandleGetByID)
		r.Put("/{id}", applicationHandler.HandleUpdate)
		r.Delete("/{id}", applicationHandler.HandleDelete)
	})

	// Stored resumes. Directory listings are refused so one user cannot
	// enumerate another's uploads.
	fileServer := http.StripPrefix("/uploads/", http.FileServer(http.Dir(resumes.Dir())))
	r.Get("/uploads/*", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		s.logger.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler returns the fully wired router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close waits for pending reset emails and closes the database.
func (s *Server) Close() error {
	s.authService.Wait()
	return s.db.Close()
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait up to SHUTDOWN_TIMEOUT for in-flight requests
//  3. Wait for reset emails already handed to the mailer goroutines
//  4. Close the database (flushes the WAL, releases the file lock)
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go s.limiter.Cleanup(ctx, limiterSweepInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("env", s.config.Server.Env),
			slog.String("database", s.config.Server.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
