package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/service"
)

// timeWindow maps the `time_window` shorthand to a duration.
var timeWindow = map[string]time.Duration{
	"1h":   time.Hour,
	"1d":   24 * time.Hour,
	"7d":   7 * 24 * time.Hour,
	"30d":  30 * 24 * time.Hour,
	"90d":  90 * 24 * time.Hour,
	"365d": 365 * 24 * time.Hour,
}

// HistoryHandler serves paginated delivery history and analytics summaries.
type HistoryHandler struct {
	service *service.HistoryService
}

func NewHistoryHandler(svc *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{service: svc}
}

func (h *HistoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Detail)
	r.Get("/analytics/summary", h.Summary)
}

// List returns a page of the caller's notification history.
// @Summary List notification history
// @Tags notifications
// @Produce json
// @Success 200 {object} Response{data=domain.ListResult}
// @Router /api/history [get]
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	filter.UserID = actorID(r)

	result, err := h.service.List(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// Detail returns the full attempt log for one notification.
// @Summary Get notification delivery history
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response{data=domain.DeliveryHistory}
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /api/history/{id} [get]
func (h *HistoryHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}

	n, hist, err := h.service.Detail(r.Context(), id, actorID(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"notification": n, "history": hist})
}

// Summary returns a dashboard analytics summary over a time window.
// @Summary Analytics summary
// @Tags notifications
// @Produce json
// @Param time_window query string false "one of 1h,1d,7d,30d,90d,365d" default(7d)
// @Param start_date query string false "RFC3339, overrides time_window"
// @Param end_date query string false "RFC3339, overrides time_window"
// @Success 200 {object} Response{data=domain.AnalyticsSummary}
// @Router /api/history/analytics/summary [get]
func (h *HistoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from, to := now.Add(-7*24*time.Hour), now

	if startStr := r.URL.Query().Get("start_date"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "INVALID_START_DATE", "start_date must be RFC3339", nil)
			return
		}
		from = t
	} else if window := r.URL.Query().Get("time_window"); window != "" {
		d, ok := timeWindow[window]
		if !ok {
			JSONError(w, http.StatusBadRequest, "INVALID_TIME_WINDOW", "unknown time_window", nil)
			return
		}
		from = now.Add(-d)
	}

	if endStr := r.URL.Query().Get("end_date"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "INVALID_END_DATE", "end_date must be RFC3339", nil)
			return
		}
		to = t
	}

	summary, err := h.service.Summary(r.Context(), actorID(r), from, to)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}
