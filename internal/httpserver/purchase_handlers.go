package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/billing"
	"github.com/modulpintar/modulpintar-server/internal/hooks"
	"github.com/modulpintar/modulpintar-server/internal/ledger"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	cfg, err := pricing.Current(r.Context(), s.pricing)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cfg)
}

type createPurchaseRequest struct {
	PackageID string `json:"package_id"`
	Provider  string `json:"provider,omitempty"`
}

// handleCreatePurchase opens a PENDING transaction snapshotting the chosen
// package. No points move until the purchase confirms.
func (s *Server) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	var req createPurchaseRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondAppError(w, err)
		return
	}
	if strings.TrimSpace(req.PackageID) == "" {
		s.respondAppError(w, apperr.New(apperr.Invalid, "package_id is required"))
		return
	}

	cfg, err := pricing.Current(r.Context(), s.pricing)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	pkg := cfg.FindPackage(req.PackageID)
	if pkg == nil {
		s.respondAppError(w, apperr.Newf(apperr.NotFound, "package %s does not exist", req.PackageID))
		return
	}

	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = "manual"
	}
	tx, err := s.billing.Create(r.Context(), info.user.ID, *pkg, provider)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"transaction":     tx,
		"payment_methods": cfg.PaymentMethods,
	})
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	tx, err := s.billing.Get(r.Context(), chi.URLParam(r, "id"), info.user.ID)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

// handleConfirmPurchase settles a pending transaction. Confirming an
// already-COMPLETED transaction is idempotent: it credits nothing and
// reports the current balance.
func (s *Server) handleConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")

	res, err := s.billing.Confirm(r.Context(), id, info.user.ID)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	if !res.AlreadyCompleted {
		tx, err := s.billing.Get(r.Context(), id, info.user.ID)
		if err == nil {
			s.recordLedger(r.Context(), ledger.Entry{
				UserID:    info.user.ID,
				Points:    tx.Points,
				Direction: ledger.DirectionCredit,
				Reason:    ledger.ReasonPurchase,
				Memo:      tx.PackageID,
			})
			s.emitHook(r.Context(), hooks.EventTransactionCompleted, info.user.ID, tx.Points, map[string]any{
				"transaction_id": tx.ID,
				"package_id":     tx.PackageID,
			})
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":            billing.StatusCompleted,
		"points":            res.Points,
		"already_completed": res.AlreadyCompleted,
	})
}
