package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insider-one/notification-engine/internal/domain"
	"github.com/insider-one/notification-engine/internal/service"
)

// PreferenceHandler serves the per-user preference read/update/sync surface.
type PreferenceHandler struct {
	service *service.PreferenceService
}

func NewPreferenceHandler(svc *service.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{service: svc}
}

func (h *PreferenceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Get)
	r.Put("/", h.Update)
	r.Post("/sync", h.Sync)
}

// Get returns the caller's preferences, defaulted if never set.
// @Summary Get notification preferences
// @Tags preferences
// @Produce json
// @Success 200 {object} Response{data=domain.Preferences}
// @Router /api/notifications/preferences [get]
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), actorID(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// Update replaces the caller's preferences.
// @Summary Update notification preferences
// @Tags preferences
// @Accept json
// @Produce json
// @Param preferences body domain.Preferences true "New preferences"
// @Success 200 {object} Response{data=service.PreferenceSyncResult}
// @Failure 400 {object} Response
// @Router /api/notifications/preferences [put]
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var next domain.Preferences
	if err := DecodeJSON(r, &next); err != nil {
		HandleError(w, err)
		return
	}
	result, err := h.service.Update(r.Context(), actorID(r), &next, actorID(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// Sync re-commits the caller's current preferences to force redistribution.
// @Summary Force-sync notification preferences
// @Tags preferences
// @Produce json
// @Param force_sync query bool false "unused, present for API compatibility"
// @Success 200 {object} Response{data=service.PreferenceSyncResult}
// @Router /api/notifications/preferences/sync [post]
func (h *PreferenceHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Sync(r.Context(), actorID(r), actorID(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}
