package model

import (
	"database/sql"
	"time"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxSent       OutboxStatus = "SENT"
	OutboxFailed     OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

const EventTicketCreated = "TICKET_CREATED"

// OutboxMessage is a pending broker publication, written in the same
// transaction as the business record it announces. Publisher instances
// claim rows under an exclusive lock; a claim is a lease, not a final
// state, so a publisher that dies mid-delivery loses the row to the
// next claimer once the lease expires.
type OutboxMessage struct {
	ID            int64          `db:"id"`
	AggregateType string         `db:"aggregate_type"` // e.g. "TICKET"
	AggregateID   int64          `db:"aggregate_id"`
	EventType     string         `db:"event_type"`
	Payload       []byte         `db:"payload"`
	RoutingKey    string         `db:"routing_key"` // Kafka topic
	Status        OutboxStatus   `db:"status"`
	RetryCount    int            `db:"retry_count"`
	MaxRetries    int            `db:"max_retries"`
	NextRetryAt   sql.NullTime   `db:"next_retry_at"`
	ClaimedAt     sql.NullTime   `db:"claimed_at"`
	ErrorMessage  sql.NullString `db:"error_message"`
	CreatedAt     time.Time      `db:"created_at"`
	ProcessedAt   sql.NullTime   `db:"processed_at"`
}
