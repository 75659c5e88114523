package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/generator"
	"github.com/modulpintar/modulpintar-server/internal/hooks"
	"github.com/modulpintar/modulpintar-server/internal/ledger"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

type generateRequest struct {
	generator.LessonSpec
	Stream bool `json:"stream,omitempty"`
}

// handleGenerate runs the paid generation lifecycle: resolve the session
// cost, debit the caller, invoke the engine, and refund the debit if the
// engine fails. The debit happens before the engine call so a crash mid
// generation can never produce an unpaid document.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	caller := info.user
	if caller.IsAdmin() {
		s.respondAppError(w, apperr.New(apperr.Forbidden, "admin accounts cannot generate modules"))
		return
	}

	var req generateRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondAppError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondAppError(w, err)
		return
	}

	// Screen input before any points move.
	if err := s.safety.Check(req.Subject, req.Grade, req.Topic, req.StudentProfile, req.Notes); err != nil {
		s.respondAppError(w, err)
		return
	}

	cfg, err := pricing.Current(r.Context(), s.pricing)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	cost, err := cfg.ResolveCost(req.Sessions)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	requestID := uuid.NewString()
	remaining, err := s.users.Debit(r.Context(), caller.ID, cost)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.recordLedger(r.Context(), ledger.Entry{
		UserID:    caller.ID,
		Points:    cost,
		Direction: ledger.DirectionDebit,
		Reason:    ledger.ReasonGeneration,
		RequestID: requestID,
		Memo:      req.Topic,
	})
	s.emitHook(r.Context(), hooks.EventPointsDebited, caller.ID, cost, map[string]any{
		"request_id": requestID,
		"sessions":   req.Sessions,
	})
	s.debugf("generation %s: debited %d points from user %d (engine %s)", requestID, cost, caller.ID, s.engine.Name())

	if req.Stream || r.URL.Query().Get("stream") == "true" {
		s.streamGeneration(w, r, requestID, caller.ID, cost, req.LessonSpec)
		return
	}

	result, err := s.engine.Generate(r.Context(), req.LessonSpec)
	if err != nil {
		s.refundGeneration(r.Context(), requestID, caller.ID, cost)
		if apperr.KindOf(err) == apperr.ContentFiltered {
			err = apperr.Wrap(apperr.ContentFiltered, "the generated content was filtered; your points were refunded", err)
		} else {
			err = apperr.Wrap(apperr.GeneratorFailure, "generation failed; your points were refunded", err)
		}
		s.respondAppError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"request_id":       requestID,
		"result":           result,
		"points_remaining": remaining,
	})
}

// streamGeneration writes chunks as they arrive. A failure after the first
// byte cannot change the status code, so the refund happens out of band and
// the stream just ends; client disconnects are not failures and keep the
// debit.
func (s *Server) streamGeneration(w http.ResponseWriter, r *http.Request, requestID string, userID, cost int64, spec generator.LessonSpec) {
	streamer, ok := s.engine.(generator.StreamingGenerator)
	if !ok {
		s.refundGeneration(r.Context(), requestID, userID, cost)
		s.respondAppError(w, apperr.New(apperr.Invalid, "streaming is not supported by the active engine"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.refundGeneration(r.Context(), requestID, userID, cost)
		s.respondAppError(w, apperr.New(apperr.Unexpected, "streaming unsupported"))
		return
	}

	chunks, err := streamer.GenerateStream(r.Context(), spec)
	if err != nil {
		s.refundGeneration(r.Context(), requestID, userID, cost)
		s.respondAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		if chunk.Err != nil {
			if errors.Is(chunk.Err, context.Canceled) {
				s.debugf("generation %s: client disconnected", requestID)
				return
			}
			s.logf("generation %s failed mid-stream: %v", requestID, chunk.Err)
			s.refundGeneration(context.WithoutCancel(r.Context()), requestID, userID, cost)
			return
		}
		if _, err := w.Write([]byte(chunk.Text)); err != nil {
			s.debugf("generation %s: write aborted: %v", requestID, err)
			return
		}
		flusher.Flush()
	}
}

// refundGeneration returns the debited points after an engine failure.
func (s *Server) refundGeneration(ctx context.Context, requestID string, userID, cost int64) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := s.users.Credit(refundCtx, userID, cost); err != nil {
		s.logf("generation %s: refund of %d points to user %d failed: %v", requestID, cost, userID, err)
		return
	}
	s.recordLedger(refundCtx, ledger.Entry{
		UserID:    userID,
		Points:    cost,
		Direction: ledger.DirectionCredit,
		Reason:    ledger.ReasonRefund,
		RequestID: requestID,
	})
	s.emitHook(refundCtx, hooks.EventPointsRefunded, userID, cost, map[string]any{"request_id": requestID})
	s.logf("generation %s: refunded %d points to user %d", requestID, cost, userID)
}
