package model

import (
	"database/sql"
	"time"
)

type TicketStatus string

const (
	TicketWaiting    TicketStatus = "WAITING"
	TicketCalled     TicketStatus = "CALLED"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketCompleted  TicketStatus = "COMPLETED"
	TicketCancelled  TicketStatus = "CANCELLED"
	TicketNoShow     TicketStatus = "NO_SHOW"
)

func (s TicketStatus) String() string { return string(s) }

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketWaiting, TicketCalled, TicketInProgress,
		TicketCompleted, TicketCancelled, TicketNoShow:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s TicketStatus) Terminal() bool {
	return s == TicketCompleted || s == TicketCancelled || s == TicketNoShow
}

// Active reports whether the ticket still occupies a queue slot.
func (s TicketStatus) Active() bool {
	return s == TicketWaiting || s == TicketCalled || s == TicketInProgress
}

// Ticket is a service-counter turn. Rows are never deleted; terminal
// states are kept for audit.
type Ticket struct {
	ID                   int64         `db:"id"`
	ReferenceCode        string        `db:"reference_code"` // ULID, unique
	Numero               string        `db:"numero"`         // display number, e.g. C042
	NationalID           string        `db:"national_id"`
	Telefono             string        `db:"telefono"`
	BranchOffice         string        `db:"branch_office"`
	QueueType            QueueType     `db:"queue_type"`
	Status               TicketStatus  `db:"status"`
	PositionInQueue      int           `db:"position_in_queue"`
	EstimatedWaitMinutes int           `db:"estimated_wait_minutes"`
	AssignedAdvisorID    sql.NullInt64 `db:"assigned_advisor_id"` // set only while CALLED|IN_PROGRESS
	AssignedModule       sql.NullInt64 `db:"assigned_module"`
	UpcomingTurnNotified bool          `db:"upcoming_turn_notified"`
	CreatedAt            time.Time     `db:"created_at"`
	CalledAt             sql.NullTime  `db:"called_at"`
	StartedAt            sql.NullTime  `db:"started_at"`
	CompletedAt          sql.NullTime  `db:"completed_at"`
}
