package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
	"github.com/insider-one/notification-engine/internal/service"
)

// NotificationHandler exposes the producer-facing create/cancel/resend
// surface and the recipient-facing single-record lookup.
type NotificationHandler struct {
	service  *service.NotificationService
	validate *validator.Validate
}

func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: svc, validate: validator.New()}
}

func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.GetByID)
	r.Delete("/{id}", h.Cancel)
	r.Post("/{id}/resend", h.Resend)
	r.Post("/{id}/open", h.MarkOpened)
	r.Post("/{id}/click", h.MarkClicked)
}

// Create enqueues a notification for delivery.
// @Summary Send a notification
// @Description Queue a notification for multi-channel delivery
// @Tags notifications
// @Accept json
// @Produce json
// @Param notification body service.SendNotificationRequest true "Notification request"
// @Success 202 {object} Response{data=service.SendResult}
// @Failure 400 {object} Response
// @Router /api/notifications [post]
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.SendNotificationRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	req.ActorUserID = actorID(r)

	result, err := h.service.Create(r.Context(), req)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, result)
}

// GetByID retrieves a notification the caller created or received.
// @Summary Get notification detail
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response{data=domain.Notification}
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /api/notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}

	n, err := h.service.GetForUser(r.Context(), id, actorID(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, n)
}

// Cancel cancels a pending or in-flight notification.
// @Summary Cancel notification
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /api/notifications/{id} [delete]
func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}
	if err := h.service.Cancel(r.Context(), id, actorID(r)); err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "notification cancelled"})
}

// Resend re-enqueues a failed notification. Admin-only.
// @Summary Resend a failed notification
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Router /api/notifications/{id}/resend [post]
func (h *NotificationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}
	if err := h.service.Resend(r.Context(), id, actorID(r)); err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "notification queued for resend"})
}

// MarkOpened records that the caller opened a delivered notification,
// feeding the responsiveness analytics dimension.
// @Summary Record a notification open
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Router /api/notifications/{id}/open [post]
func (h *NotificationHandler) MarkOpened(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}
	if err := h.service.MarkOpened(r.Context(), id, actorID(r)); err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "open recorded"})
}

// MarkClicked records that the caller acted on a notification's content.
// @Summary Record a notification click
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Router /api/notifications/{id}/click [post]
func (h *NotificationHandler) MarkClicked(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
		return
	}
	if err := h.service.MarkClicked(r.Context(), id, actorID(r)); err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "click recorded"})
}

// actorID and isAdmin read the caller's identity from the X-User-ID and
// X-User-Role request headers; nothing in this service sets or verifies
// those headers (JWT verification is an external collaborator).
func actorID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get("X-User-Role") == "admin"
}

// parseListFilter builds a domain.Filter from common list query parameters,
// used by the history list handler.
func parseListFilter(r *http.Request) (domain.Filter, error) {
	filter := domain.Filter{Page: 1, PageSize: 20}

	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.Status(status)
		filter.Status = &s
	}
	if channel := r.URL.Query().Get("channel"); channel != "" {
		c := domain.Channel(channel)
		filter.Channel = &c
	}
	if priority := r.URL.Query().Get("priority"); priority != "" {
		p := domain.Priority(priority)
		filter.Priority = &p
	}
	if nt := r.URL.Query().Get("notification_type"); nt != "" {
		t := domain.NotificationType(nt)
		filter.NotificationType = &t
	}
	if from := r.URL.Query().Get("date_from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, domain.NewValidationError("date_from", "must be RFC3339")
		}
		filter.DateFrom = &t
	}
	if to := r.URL.Query().Get("date_to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, domain.NewValidationError("date_to", "must be RFC3339")
		}
		filter.DateTo = &t
	}
	filter.SearchTerm = r.URL.Query().Get("search_term")

	if page := r.URL.Query().Get("page"); page != "" {
		v, err := strconv.Atoi(page)
		if err != nil || v < 1 {
			return filter, domain.NewValidationError("page", "must be a positive integer")
		}
		filter.Page = v
	}
	if pageSize := r.URL.Query().Get("page_size"); pageSize != "" {
		v, err := strconv.Atoi(pageSize)
		if err != nil || v < 1 || v > 100 {
			return filter, domain.NewValidationError("page_size", "must be between 1 and 100")
		}
		filter.PageSize = v
	}

	filter.SortBy = r.URL.Query().Get("sort_by")
	filter.SortDescending = r.URL.Query().Get("sort_order") != "asc"

	return filter, nil
}
