package http

import (
	"net/http"
	"strings"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/service/ticket"
	"github.com/jcastillo/ticketero/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type createReq struct {
	NationalID   string `json:"nationalId"`
	Telefono     string `json:"telefono"`
	BranchOffice string `json:"branchOffice"`
	QueueType    string `json:"queueType"` // CAJA | PERSONAL | EMPRESAS | GERENCIA
}

func createTicketHandler(svc *ticket.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.NationalID = strings.TrimSpace(req.NationalID)
		req.Telefono = util.NormalizePhone(strings.TrimSpace(req.Telefono))
		req.BranchOffice = strings.TrimSpace(req.BranchOffice)

		if req.NationalID == "" || req.BranchOffice == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		q, ok := model.ParseQueueType(req.QueueType)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid queue type"})
		}

		t, err := svc.Create(c.Request().Context(), ticket.CreateRequest{
			NationalID:   req.NationalID,
			Telefono:     req.Telefono,
			BranchOffice: req.BranchOffice,
			QueueType:    q,
		})
		if err != nil {
			log.Errorf("create ticket failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"referenceCode":        t.ReferenceCode,
			"numero":               t.Numero,
			"queueType":            t.QueueType.String(),
			"positionInQueue":      t.PositionInQueue,
			"estimatedWaitMinutes": t.EstimatedWaitMinutes,
			"status":               t.Status.String(),
		})
	}
}
