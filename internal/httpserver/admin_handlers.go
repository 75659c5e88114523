package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/hooks"
	"github.com/modulpintar/modulpintar-server/internal/ledger"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(users))
	for i := range users {
		payload = append(payload, userPayload(&users[i]))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"users": payload})
}

type setPointsRequest struct {
	Points int64 `json:"points"`
}

// handleAdminSetPoints overwrites a user's balance outright. The audit
// entry records the delta so reconciliation still works.
func (s *Server) handleAdminSetPoints(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondAppError(w, apperr.New(apperr.Invalid, "user id must be a positive integer"))
		return
	}
	var req setPointsRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondAppError(w, err)
		return
	}
	if req.Points < 0 {
		s.respondAppError(w, apperr.New(apperr.Invalid, "points must not be negative"))
		return
	}

	before, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	points, err := s.users.SetPoints(r.Context(), id, req.Points)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	delta := points - before.Points
	entry := ledger.Entry{UserID: id, Reason: ledger.ReasonAdmin}
	switch {
	case delta > 0:
		entry.Points = delta
		entry.Direction = ledger.DirectionCredit
	case delta < 0:
		entry.Points = -delta
		entry.Direction = ledger.DirectionDebit
	}
	if delta != 0 {
		s.recordLedger(r.Context(), entry)
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"points": points,
	})
}

// handleAdminUpdatePricing replaces the pricing singleton wholesale.
func (s *Server) handleAdminUpdatePricing(w http.ResponseWriter, r *http.Request) {
	var cfg pricing.Config
	if err := s.decodeJSON(r, &cfg); err != nil {
		s.respondAppError(w, err)
		return
	}
	for _, pkg := range cfg.Packages {
		if pkg.ID == "" || pkg.Points <= 0 || pkg.Price < 0 {
			s.respondAppError(w, apperr.New(apperr.Invalid, "packages need an id, positive points, and a non-negative price"))
			return
		}
	}
	for _, sc := range cfg.SessionCosts {
		if sc.Sessions < 1 || sc.Cost < 0 {
			s.respondAppError(w, apperr.New(apperr.Invalid, "session costs need at least one session and a non-negative cost"))
			return
		}
	}

	if err := s.pricing.Save(r.Context(), cfg); err != nil {
		s.respondAppError(w, err)
		return
	}
	info := sessionFromContext(r.Context())
	s.emitHook(r.Context(), hooks.EventPricingUpdated, info.user.ID, 0, map[string]any{
		"packages":      len(cfg.Packages),
		"session_costs": len(cfg.SessionCosts),
	})
	s.respondJSON(w, http.StatusOK, cfg)
}
