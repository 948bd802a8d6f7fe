package model

import (
	"database/sql"
	"strings"
	"time"
)

type AdvisorStatus string

const (
	AdvisorAvailable AdvisorStatus = "AVAILABLE"
	AdvisorBusy      AdvisorStatus = "BUSY"
	AdvisorBreak     AdvisorStatus = "BREAK"
	AdvisorOffline   AdvisorStatus = "OFFLINE"
)

func (s AdvisorStatus) String() string { return string(s) }

func (s AdvisorStatus) Valid() bool {
	switch s {
	case AdvisorAvailable, AdvisorBusy, AdvisorBreak, AdvisorOffline:
		return true
	}
	return false
}

// Advisor is a service-desk employee. There is deliberately no stored
// reference to the ticket being served; "current ticket for advisor"
// is always derived by query (see TicketsRepository.GetCurrentForAdvisor).
type Advisor struct {
	ID                    int64         `db:"id"`
	Name                  string        `db:"name"`
	ModuleNumber          int           `db:"module_number"`
	QueueTypes            string        `db:"queue_types"` // comma-separated QueueType names
	Status                AdvisorStatus `db:"status"`
	AvgServiceTimeMinutes int           `db:"avg_service_time_minutes"`
	TotalTicketsServed    int           `db:"total_tickets_served"`
	LastHeartbeat         sql.NullTime  `db:"last_heartbeat"`
	RecoveryCount         int           `db:"recovery_count"`
	CreatedAt             time.Time     `db:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at"`
}

// Supports reports whether the advisor is qualified for the queue type.
func (a Advisor) Supports(q QueueType) bool {
	for _, s := range strings.Split(a.QueueTypes, ",") {
		if strings.TrimSpace(s) == string(q) {
			return true
		}
	}
	return false
}
