package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/mindforge/altec/internal/errors"
	"github.com/mindforge/altec/pkg/altec/admission"
	"github.com/mindforge/altec/pkg/altec/metrics"
	"github.com/mindforge/altec/pkg/altec/publisher"
	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

// outcomeNames maps admission.OutcomeKind to its wire-shape string
// (spec.md §6: started, attached, skipped_recent_success).
var outcomeNames = map[admission.OutcomeKind]string{
	admission.Started:              "started",
	admission.Attached:             "attached",
	admission.SkippedRecentSuccess: "skipped_recent_success",
}

// Handler implements ALTEC's three external operations against a Guard and
// a Publisher.
type Handler struct {
	guard     *admission.Guard
	publisher *publisher.Publisher
	validator *Validator
	logger    *zap.Logger
}

// NewHandler builds a Handler. logger defaults to a no-op logger if nil.
func NewHandler(guard *admission.Guard, pub *publisher.Publisher, v *Validator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{guard: guard, publisher: pub, validator: v, logger: logger}
}

// Submit handles POST /tasks.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, apperrors.NewValidationError("request body is not valid JSON"))
		return
	}
	if err := h.validator.ValidateSubmitRequest(req); err != nil {
		writeAppError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "descriptor failed validation"))
		return
	}

	kind := task.Kind(req.Kind)
	key := task.Key{Kind: kind, ResourceID: req.ResourceID}

	outcome, err := h.guard.Submit(r.Context(), key, req.Descriptor, kind, req.HistoricalSeconds, 0, time.Now())
	if err != nil {
		appErr := storeError(err, "submit")
		h.logger.Error("submit failed", zap.String("key", key.String()), zap.Any("fields", apperrors.LogFields(appErr)))
		writeAppError(w, appErr)
		return
	}

	metrics.RecordAdmission(string(kind), outcomeNames[outcome.Kind])
	writeJSON(w, http.StatusOK, SubmitResponse{
		TaskID:  outcome.TaskID,
		Outcome: outcomeNames[outcome.Kind],
	})
}

// Poll handles GET /tasks/{kind}/{resource_id}.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(r)
	if !ok {
		writeAppError(w, apperrors.NewValidationError("unknown kind or missing resource_id"))
		return
	}

	incoming := bearerToken(r)
	view, err := h.publisher.Poll(r.Context(), key, time.Now(), incoming)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeAppError(w, apperrors.NewNotFoundError("task"))
			return
		}
		writeAppError(w, storeError(err, "poll"))
		return
	}

	resp := TaskViewResponse{
		TaskID:          view.TaskID,
		Status:          string(view.Status),
		PhaseCursor:     view.PhaseCursor,
		CurrentPhase:    view.CurrentPhase,
		ProgressPercent: view.ProgressPercent,
		ProgressMessage: view.ProgressMessage,
		Attempts:        view.Attempts,
		ProcessingTime:  view.ProcessingTime.Seconds(),
		ResultRef:       view.ResultRef,
	}
	if view.Error != nil {
		resp.ErrorKind = string(view.Error.Kind)
		resp.ErrorMessage = view.Error.Message
	}
	if view.Refresh != nil {
		resp.Refresh = &Refresh{Token: view.Refresh.Token, ExpiresAt: view.Refresh.ExpiresAt}
		metrics.RecordCredentialRefresh(string(key.Kind))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /tasks/{kind}/{resource_id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(r)
	if !ok {
		writeAppError(w, apperrors.NewValidationError("unknown kind or missing resource_id"))
		return
	}

	if err := h.guard.Cancel(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeAppError(w, apperrors.NewNotFoundError("task"))
			return
		}
		writeAppError(w, storeError(err, "cancel"))
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Result: "ok"})
}

// Delete handles DELETE /tasks/{kind}/{resource_id}: the hook an upstream
// system calls when the underlying resource is deleted, tombstoning the
// Task (spec.md §4.2).
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(r)
	if !ok {
		writeAppError(w, apperrors.NewValidationError("unknown kind or missing resource_id"))
		return
	}

	if err := h.guard.MarkDeleted(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeAppError(w, apperrors.NewNotFoundError("task"))
			return
		}
		writeAppError(w, storeError(err, "delete"))
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Result: "ok"})
}

func parseKey(r *http.Request) (task.Key, bool) {
	kind := task.Kind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		return task.Key{}, false
	}
	resourceID := chi.URLParam(r, "resource_id")
	if resourceID == "" {
		return task.Key{}, false
	}
	return task.Key{Kind: kind, ResourceID: resourceID}, true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// storeError classifies a StateStore failure: a breaker-tripped store
// surfaces as the spec's dedicated `store_unavailable` error (bubbled to
// the caller with no state change, per spec.md §4.1/§6); anything else is
// an opaque internal failure.
func storeError(err error, operation string) error {
	if errors.Is(err, store.ErrStoreUnavailable) {
		return apperrors.NewUnavailableError(err, "state store")
	}
	return apperrors.NewDatabaseError(operation, err)
}

// writeAppError maps an *apperrors.AppError to its HTTP status and a
// caller-safe body, per internal/errors' boundary-error contract: internal
// failure detail never crosses into the response.
func writeAppError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.GetStatusCode(err), ErrorResponse{Error: apperrors.SafeErrorMessage(err)})
}
