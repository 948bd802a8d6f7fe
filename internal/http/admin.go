package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/recovery"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// recoverAdvisorHandler force-recovers a stuck advisor: its active
// ticket is requeued and the advisor returns to the available pool.
func recoverAdvisorHandler(coord *recovery.Coordinator) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid advisor id"})
		}

		if err := coord.RecoverAdvisor(c.Request().Context(), id); err != nil {
			if errors.Is(err, repository.ErrAdvisorNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "advisor not found"})
			}
			if errors.Is(err, recovery.ErrAdvisorNotBusy) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "advisor is not busy, nothing to recover"})
			}
			log.Errorf("manual recovery failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{"recovered": true, "advisorId": id})
	}
}

func dashboardHandler(
	tickets repository.TicketsRepository,
	advisors repository.AdvisorsRepository,
	outbox repository.OutboxRepository,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		types := model.AllQueueTypes()
		queues := make(map[string]any, len(types))
		for _, q := range types {
			waiting, err := tickets.CountWaiting(ctx, nil, q)
			if err != nil {
				log.Errorf("dashboard failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			inService, err := tickets.CountByStatus(ctx, q, model.TicketInProgress)
			if err != nil {
				log.Errorf("dashboard failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			queues[q.String()] = map[string]int{"waiting": waiting, "inService": inService}
		}

		advisorCounts := make(map[string]int, 4)
		for _, s := range []model.AdvisorStatus{
			model.AdvisorAvailable,
			model.AdvisorBusy,
			model.AdvisorBreak,
			model.AdvisorOffline,
		} {
			n, err := advisors.CountByStatus(ctx, s)
			if err != nil {
				log.Errorf("dashboard failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			advisorCounts[string(s)] = n
		}

		outboxCounts := make(map[string]int, 4)
		for _, s := range []model.OutboxStatus{
			model.OutboxPending,
			model.OutboxProcessing,
			model.OutboxSent,
			model.OutboxFailed,
		} {
			n, err := outbox.CountByStatus(ctx, s)
			if err != nil {
				log.Errorf("dashboard failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			outboxCounts[string(s)] = n
		}

		return c.JSON(http.StatusOK, map[string]any{
			"queues":   queues,
			"advisors": advisorCounts,
			"outbox":   outboxCounts,
		})
	}
}
