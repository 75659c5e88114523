// Package httpserver exposes the REST surface: account flows, pricing,
// point purchases, and lesson-module generation.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/auth"
	"github.com/modulpintar/modulpintar-server/internal/billing"
	"github.com/modulpintar/modulpintar-server/internal/generator"
	"github.com/modulpintar/modulpintar-server/internal/hooks"
	"github.com/modulpintar/modulpintar-server/internal/ledger"
	"github.com/modulpintar/modulpintar-server/internal/mail"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
	"github.com/modulpintar/modulpintar-server/internal/safety"
	"github.com/modulpintar/modulpintar-server/internal/userstore"
)

// resetTokenTTL bounds how long a password-reset link stays usable.
const resetTokenTTL = time.Hour

// Server wires the stores, the generator, and the auth manager behind the
// REST routes.
type Server struct {
	auth     *auth.Manager
	users    userstore.Store
	pricing  pricing.Store
	billing  billing.Store
	ledger   ledger.Store
	engine   generator.Generator
	safety   *safety.Checker
	mailer   mail.Mailer
	hooks    *hooks.Dispatcher
	logger   *log.Logger
	logLevel string

	initialPoints int64
}

// Options collects the Server dependencies.
type Options struct {
	Auth          *auth.Manager
	Users         userstore.Store
	Pricing       pricing.Store
	Billing       billing.Store
	Ledger        ledger.Store
	Engine        generator.Generator
	Safety        *safety.Checker
	Mailer        mail.Mailer
	Hooks         *hooks.Dispatcher
	InitialPoints int64
}

// New constructs a Server with the required dependencies.
func New(opts Options) *Server {
	s := &Server{
		auth:          opts.Auth,
		users:         opts.Users,
		pricing:       opts.Pricing,
		billing:       opts.Billing,
		ledger:        opts.Ledger,
		engine:        opts.Engine,
		safety:        opts.Safety,
		mailer:        opts.Mailer,
		hooks:         opts.Hooks,
		initialPoints: opts.InitialPoints,
	}
	if s.safety == nil {
		s.safety = safety.Default()
	}
	if s.mailer == nil {
		s.mailer = &mail.NopMailer{}
	}
	if s.initialPoints < 0 {
		s.initialPoints = 0
	}
	return s
}

// SetLogger attaches the server log at the given level.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	s.logger = logger
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)
		api.Post("/auth/forgot-password", s.handleForgotPassword)
		api.Post("/auth/reset-password", s.handleResetPassword)
		api.Get("/pricing", s.handlePricing)

		api.Group(func(private chi.Router) {
			private.Use(s.sessionMiddleware)
			private.Get("/profile", s.handleProfile)
			private.Get("/points/history", s.handlePointsHistory)
			private.Post("/modules/generate", s.handleGenerate)
			private.Post("/purchases", s.handleCreatePurchase)
			private.Get("/purchases/{id}", s.handleGetPurchase)
			private.Post("/purchases/{id}/confirm", s.handleConfirmPurchase)

			private.Group(func(admin chi.Router) {
				admin.Use(s.requireAdmin)
				admin.Get("/admin/users", s.handleAdminListUsers)
				admin.Patch("/admin/users/{id}/points", s.handleAdminSetPoints)
				admin.Put("/admin/pricing", s.handleAdminUpdatePricing)
			})
		})
	})

	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

type sessionContextKey struct{}

type sessionInfo struct {
	user *userstore.User
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.authenticateRequest(r)
		if err != nil {
			s.respondAppError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateRequest resolves the bearer token to a stored user, or to the
// non-persisted root admin when the token carries the reserved subject.
func (s *Server) authenticateRequest(r *http.Request) (*sessionInfo, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	identity, err := s.auth.Authenticate(token)
	if err != nil {
		return nil, err
	}
	if identity.Root {
		root := s.auth.RootAdmin()
		if root == nil {
			return nil, apperr.New(apperr.Unauthenticated, "root admin not configured")
		}
		return &sessionInfo{user: root}, nil
	}
	user, err := s.users.GetUser(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return nil, apperr.New(apperr.Unauthenticated, "account no longer exists")
		}
		return nil, err
	}
	return &sessionInfo{user: user}, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := sessionFromContext(r.Context())
		if info == nil || !info.user.IsAdmin() {
			s.respondAppError(w, apperr.New(apperr.Forbidden, "admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(ctx context.Context) *sessionInfo {
	info, _ := ctx.Value(sessionContextKey{}).(*sessionInfo)
	return info
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusForKind maps the error taxonomy onto HTTP statuses.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.Invalid, apperr.NoCostConfigured:
		return http.StatusBadRequest
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.Forbidden, apperr.InsufficientPoints:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.GeneratorFailure, apperr.ContentFiltered:
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// respondAppError writes the user-facing message for err. Internal causes
// go to the log, never to the body.
func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		s.logf("internal error: %v", err)
	} else {
		s.debugf("request failed (%s): %v", kind, err)
	}
	s.respondJSON(w, status, map[string]any{
		"error": apperr.MessageOf(err),
		"code":  kind.String(),
	})
}

func (s *Server) emitHook(ctx context.Context, eventType hooks.EventType, userID, points int64, metadata map[string]any) {
	if s.hooks == nil {
		return
	}
	evt := hooks.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		UserID:     userID,
		Points:     points,
		Metadata:   metadata,
	}
	if err := s.hooks.Emit(ctx, evt); err != nil {
		s.logf("hook emit %s: %v", eventType, err)
	}
}

func (s *Server) decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.Invalid, "request body is not valid JSON", err)
	}
	return nil
}
