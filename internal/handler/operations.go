package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/insider-one/notification-engine/internal/channel"
	"github.com/insider-one/notification-engine/internal/dispatcher"
	"github.com/insider-one/notification-engine/internal/worker"
)

// OperationsHandler exposes the daemon/channel operational endpoints
// distinct from the generic liveness/readiness probes in HealthHandler
//.
type OperationsHandler struct {
	daemon      *worker.Daemon
	registry    *channel.Registry
	deadLetter  *dispatcher.DeadLetterQueue
	escalations *dispatcher.EscalationQueue
}

func NewOperationsHandler(daemon *worker.Daemon, registry *channel.Registry, deadLetter *dispatcher.DeadLetterQueue, escalations *dispatcher.EscalationQueue) *OperationsHandler {
	return &OperationsHandler{daemon: daemon, registry: registry, deadLetter: deadLetter, escalations: escalations}
}

func (h *OperationsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/daemon", h.Daemon)
	r.Get("/channels", h.Channels)
	r.Post("/restart-daemon", h.RestartDaemon)
}

// Daemon reports the delivery daemon's lifecycle state.
// @Summary Daemon status
// @Tags operations
// @Produce json
// @Success 200 {object} Response
// @Router /api/notifications/health/daemon [get]
func (h *OperationsHandler) Daemon(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"state":             h.daemon.State(),
		"dead_letter_depth": h.deadLetter.Len(),
		"escalation_depth":  h.escalations.Len(),
	})
}

// Channels reports per-channel adapter health.
// @Summary Channel adapter health
// @Tags operations
// @Produce json
// @Success 200 {object} Response
// @Router /api/notifications/health/channels [get]
func (h *OperationsHandler) Channels(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.registry.Health())
}

// RestartDaemon stops and restarts the delivery daemon. Admin-only.
// @Summary Restart the delivery daemon
// @Tags operations
// @Produce json
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Router /api/notifications/health/restart-daemon [post]
func (h *OperationsHandler) RestartDaemon(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
		return
	}

	stopCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	h.daemon.Stop(stopCtx)

	if err := h.daemon.Start(r.Context()); err != nil {
		JSONError(w, http.StatusInternalServerError, "RESTART_FAILED", err.Error(), nil)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"message": "daemon restarted"})
}
