package model

import (
	"database/sql"
	"time"
)

// Ticket lifecycle event types (append-only audit trail).
const (
	EventCreated         = "CREATED"
	EventCalled          = "CALLED"
	EventStarted         = "STARTED"
	EventCompleted       = "COMPLETED"
	EventPositionUpdated = "POSITION_UPDATED"
	EventRequeued        = "REQUEUED"
)

type TicketEvent struct {
	ID        int64          `db:"id"`
	TicketID  int64          `db:"ticket_id"`
	EventType string         `db:"event_type"`
	NewStatus string         `db:"new_status"`
	AdvisorID sql.NullInt64  `db:"advisor_id"`
	Notes     sql.NullString `db:"notes"`
	CreatedAt time.Time      `db:"created_at"`
}

// Recovery types recorded on RecoveryEvent rows.
const (
	RecoveryDeadWorker = "DEAD_WORKER"
	RecoveryTimeout    = "TIMEOUT"
	RecoveryManual     = "MANUAL"
)

// RecoveryEvent records one advisor reclamation. Append-only.
type RecoveryEvent struct {
	ID               int64          `db:"id"`
	AdvisorID        int64          `db:"advisor_id"`
	TicketID         sql.NullInt64  `db:"ticket_id"`
	RecoveryType     string         `db:"recovery_type"`
	OldAdvisorStatus string         `db:"old_advisor_status"`
	OldTicketStatus  sql.NullString `db:"old_ticket_status"`
	Notes            sql.NullString `db:"notes"`
	DetectedAt       time.Time      `db:"detected_at"`
}
