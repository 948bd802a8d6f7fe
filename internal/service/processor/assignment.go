package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jmoiron/sqlx"
)

// ErrNoAdvisorAvailable signals that no qualifying advisor exists right
// now. It is a retryable condition, not a failure: consumers requeue
// the message after a backoff.
var ErrNoAdvisorAvailable = errors.New("no advisor available")

// AssignmentCoordinator atomically binds one advisor to one ticket.
type AssignmentCoordinator struct {
	advisors repository.AdvisorsRepository
	tickets  repository.TicketsRepository
}

func NewAssignmentCoordinator(advisors repository.AdvisorsRepository, tickets repository.TicketsRepository) *AssignmentCoordinator {
	return &AssignmentCoordinator{advisors: advisors, tickets: tickets}
}

// Assign selects the least-loaded AVAILABLE advisor qualified for the
// queue type and binds it: advisor → BUSY, ticket → CALLED, both inside
// the caller's transaction. The candidate select holds an exclusive row
// lock, so of N concurrent callers exactly one wins each advisor and
// the rest observe it as no longer AVAILABLE.
func (c *AssignmentCoordinator) Assign(ctx context.Context, tx *sqlx.Tx, q model.QueueType, ticketID int64, at time.Time) (*model.Advisor, error) {
	adv, err := c.advisors.SelectAvailableForUpdate(ctx, tx, q)
	if err != nil {
		return nil, fmt.Errorf("select advisor: %w", err)
	}
	if adv == nil {
		return nil, ErrNoAdvisorAvailable
	}

	if err := c.advisors.MarkBusy(ctx, tx, adv.ID, at); err != nil {
		return nil, fmt.Errorf("mark advisor busy: %w", err)
	}
	adv.Status = model.AdvisorBusy

	assigned, err := c.tickets.AssignCalled(ctx, tx, ticketID, adv.ID, adv.ModuleNumber, at)
	if err != nil {
		return nil, fmt.Errorf("assign ticket: %w", err)
	}
	if !assigned {
		// ticket left WAITING between reload and binding; the caller's
		// rollback releases the advisor again
		return nil, fmt.Errorf("ticket %d no longer assignable", ticketID)
	}

	return adv, nil
}
