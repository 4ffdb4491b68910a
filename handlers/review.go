package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/services"
	"go.uber.org/zap"
)

// ReviewAdjudicator is the review queue. *services.ReviewService satisfies it.
type ReviewAdjudicator interface {
	List(ctx context.Context, statuses ...models.ReviewStatus) ([]models.ReviewItem, error)
	Get(ctx context.Context, itemID uint) (*models.ReviewItem, error)
	Adjudicate(ctx context.Context, itemID uint, action services.ReviewAction, studentID *uint, actor *uint) (*models.ReviewItem, error)
}

// UnrecognizedAdjudicator is the unrecognized queue.
// *services.UnrecognizedService satisfies it.
type UnrecognizedAdjudicator interface {
	ListPending(ctx context.Context) ([]models.UnrecognizedItem, error)
	Get(ctx context.Context, itemID uint) (*models.UnrecognizedItem, error)
	Assign(ctx context.Context, itemID uint, studentID *uint, actor *uint) (*models.UnrecognizedItem, error)
	Discard(ctx context.Context, itemID uint, actor *uint) (*models.UnrecognizedItem, error)
}

type ReviewHandler struct {
	Reviews      ReviewAdjudicator
	Unrecognized UnrecognizedAdjudicator
	Logger       *zap.Logger
}

type ReviewActionPayload struct {
	Action    string `json:"action" validate:"required,oneof=confirm reassign discard"`
	StudentID *uint  `json:"student_id" validate:"omitempty,gt=0"`
}

type AssignPayload struct {
	StudentID *uint `json:"student_id" validate:"omitempty,gt=0"`
}

// ListReview handles GET /api/review. status may repeat or be a comma
// separated list; without it every non-discarded item is returned.
func (h *ReviewHandler) ListReview(w http.ResponseWriter, r *http.Request) {
	var statuses []models.ReviewStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.ReviewStatus(s))
			}
		}
	}
	items, err := h.Reviews.List(r.Context(), statuses...)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if items == nil {
		items = []models.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GetReview handles GET /api/review/{item_id}
func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "item_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	item, err := h.Reviews.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// AdjudicateReview handles POST /api/review/{item_id} with
// {"action": "confirm"|"reassign"|"discard", "student_id": n}
func (h *ReviewHandler) AdjudicateReview(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "item_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	var payload ReviewActionPayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	item, err := h.Reviews.Adjudicate(r.Context(), id, services.ReviewAction(payload.Action), payload.StudentID, actorID(r))
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	h.Logger.Info("review item adjudicated", zap.Uint("item_id", id), zap.String("action", payload.Action), zap.String("status", string(item.Status)))
	writeJSON(w, http.StatusOK, item)
}

// ListUnrecognized handles GET /api/unrecognized
func (h *ReviewHandler) ListUnrecognized(w http.ResponseWriter, r *http.Request) {
	items, err := h.Unrecognized.ListPending(r.Context())
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if items == nil {
		items = []models.UnrecognizedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GetUnrecognized handles GET /api/unrecognized/{item_id}
func (h *ReviewHandler) GetUnrecognized(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "item_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	item, err := h.Unrecognized.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// AssignUnrecognized handles POST /api/unrecognized/{item_id}/assign. A null
// student_id leaves the item untouched.
func (h *ReviewHandler) AssignUnrecognized(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "item_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	var payload AssignPayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	item, err := h.Unrecognized.Assign(r.Context(), id, payload.StudentID, actorID(r))
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DiscardUnrecognized handles POST /api/unrecognized/{item_id}/discard
func (h *ReviewHandler) DiscardUnrecognized(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "item_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	item, err := h.Unrecognized.Discard(r.Context(), id, actorID(r))
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
