package http

import (
	"net/http"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/queue"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// queueStatusHandler reports live queue depth plus the roster of
// advisors qualified for the queue type.
func queueStatusHandler(
	tickets repository.TicketsRepository,
	advisors repository.AdvisorsRepository,
	queues *queue.Manager,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		q, ok := model.ParseQueueType(c.Param("type"))
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid queue type"})
		}

		ctx := c.Request().Context()

		waiting, err := tickets.CountWaiting(ctx, nil, q)
		if err != nil {
			log.Errorf("queue status failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		inService, err := tickets.CountByStatus(ctx, q, model.TicketInProgress)
		if err != nil {
			log.Errorf("queue status failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		avg, err := queues.AvgServiceMinutes(ctx, nil, q)
		if err != nil {
			log.Errorf("queue status failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		available, err := advisors.ListByStatus(ctx, model.AdvisorAvailable)
		if err != nil {
			log.Errorf("queue status failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		qualified := 0
		for _, a := range available {
			if a.Supports(q) {
				qualified++
			}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"queueType":             q.String(),
			"displayName":           q.DisplayName(),
			"waiting":               waiting,
			"inService":             inService,
			"availableAdvisors":     qualified,
			"avgServiceTimeMinutes": avg,
			"estimatedWaitMinutes":  waiting * avg,
		})
	}
}
