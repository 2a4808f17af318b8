package handlers

import (
	"net/http"
	"time"

	"clubsite/internal/services"

	"github.com/pocketbase/pocketbase/core"
)

// CronHandler exposes the scheduled jobs to an external scheduler. Routes are
// guarded by security.RequireBearer.
type CronHandler struct {
	reminders *services.ReminderService
	sweeper   *services.Sweeper
	now       func() time.Time
}

func NewCronHandler(reminders *services.ReminderService, sweeper *services.Sweeper) *CronHandler {
	return &CronHandler{reminders: reminders, sweeper: sweeper, now: time.Now}
}

func (h *CronHandler) Reminders(e *core.RequestEvent) error {
	report, err := h.reminders.SendReminders(e.Request.Context(), h.now())
	if err != nil {
		return apiError("reminders.SendReminders()", err)
	}
	return e.JSON(http.StatusOK, report)
}

func (h *CronHandler) ExpirePending(e *core.RequestEvent) error {
	n, err := h.sweeper.ExpirePending(e.Request.Context(), h.now())
	if err != nil {
		return apiError("sweeper.ExpirePending()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"expired": n})
}
