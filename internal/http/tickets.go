package http

import (
	"errors"
	"net/http"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/ticket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func ticketStatusHandler(svc *ticket.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		code := c.Param("code")

		t, err := svc.GetByReference(c.Request().Context(), code)
		if err != nil {
			if errors.Is(err, repository.ErrTicketNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "ticket not found"})
			}
			log.Errorf("ticket lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, ticketView(t))
	}
}

func ticketPositionHandler(svc *ticket.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		code := c.Param("code")

		p, err := svc.Position(c.Request().Context(), code)
		if err != nil {
			if errors.Is(err, repository.ErrTicketNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "ticket not found"})
			}
			log.Errorf("position lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, p)
	}
}

func ticketView(t *model.Ticket) map[string]any {
	v := map[string]any{
		"referenceCode":        t.ReferenceCode,
		"numero":               t.Numero,
		"queueType":            t.QueueType.String(),
		"branchOffice":         t.BranchOffice,
		"status":               t.Status.String(),
		"positionInQueue":      t.PositionInQueue,
		"estimatedWaitMinutes": t.EstimatedWaitMinutes,
		"createdAt":            t.CreatedAt,
	}
	if t.AssignedAdvisorID.Valid {
		v["assignedAdvisorId"] = t.AssignedAdvisorID.Int64
	}
	if t.AssignedModule.Valid {
		v["assignedModule"] = t.AssignedModule.Int64
	}
	if t.CalledAt.Valid {
		v["calledAt"] = t.CalledAt.Time
	}
	if t.CompletedAt.Valid {
		v["completedAt"] = t.CompletedAt.Time
	}
	return v
}
