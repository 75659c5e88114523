package httpserver

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/auth"
	"github.com/modulpintar/modulpintar-server/internal/hooks"
	"github.com/modulpintar/modulpintar-server/internal/ledger"
	"github.com/modulpintar/modulpintar-server/internal/userstore"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondAppError(w, err)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		s.respondAppError(w, apperr.New(apperr.Invalid, "a valid email is required"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	user, err := s.users.CreateUser(r.Context(), email, hash, s.initialPoints)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	if s.initialPoints > 0 {
		s.recordLedger(r.Context(), ledger.Entry{
			UserID:    user.ID,
			Points:    s.initialPoints,
			Direction: ledger.DirectionCredit,
			Reason:    ledger.ReasonSignup,
		})
	}
	s.emitHook(r.Context(), hooks.EventUserRegistered, user.ID, s.initialPoints, map[string]any{"email": user.Email})

	token, err := s.auth.IssueToken(user)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  userPayload(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondAppError(w, err)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	// Root admin credentials resolve before any storage lookup.
	if root := s.auth.RootLogin(email, req.Password); root != nil {
		token, err := s.auth.IssueToken(root)
		if err != nil {
			s.respondAppError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"token": token,
			"user":  userPayload(root),
		})
		return
	}

	user, err := s.users.FindByEmail(r.Context(), email)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.respondAppError(w, apperr.New(apperr.Unauthenticated, "email or password is incorrect"))
		return
	}
	token, err := s.auth.IssueToken(user)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userPayload(user),
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword issues a reset token and mails it. The response is
// identical whether or not the email exists.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondAppError(w, err)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	accepted := map[string]any{"status": "accepted"}

	user, err := s.users.FindByEmail(r.Context(), email)
	if err != nil || user == nil {
		if err != nil {
			s.logf("forgot-password lookup: %v", err)
		}
		s.respondJSON(w, http.StatusAccepted, accepted)
		return
	}

	token, err := auth.NewResetToken()
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	if err := s.users.SetResetToken(r.Context(), user.ID, auth.SumResetToken(token), time.Now().Add(resetTokenTTL)); err != nil {
		s.respondAppError(w, err)
		return
	}

	// Delivery happens out of band so a slow SMTP hop cannot stall the
	// response or reveal that the address exists.
	go func(toEmail, rawToken string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.mailer.SendPasswordReset(ctx, toEmail, rawToken, resetTokenTTL); err != nil {
			s.logf("password reset mail to %s: %v", toEmail, err)
		}
	}(user.Email, token)

	s.respondJSON(w, http.StatusAccepted, accepted)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondAppError(w, err)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.respondAppError(w, apperr.New(apperr.Invalid, "reset token is required"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	user, err := s.users.ConsumeResetToken(r.Context(), auth.SumResetToken(req.Token), hash)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "password updated",
		"email":  user.Email,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]any{"user": userPayload(info.user)})
}

func (s *Server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	summary, err := s.ledger.Summary(r.Context(), info.user.ID)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	entries, err := s.ledger.ListRecent(r.Context(), info.user.ID, 50)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"entries": entries,
	})
}

func (s *Server) recordLedger(ctx context.Context, entry ledger.Entry) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.logf("ledger record (%s/%s): %v", entry.Direction, entry.Reason, err)
	}
}

func userPayload(u *userstore.User) map[string]any {
	return map[string]any{
		"id":     u.ID,
		"email":  u.Email,
		"role":   u.Role,
		"points": u.Points,
	}
}
