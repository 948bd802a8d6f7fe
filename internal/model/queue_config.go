package model

import "time"

// QueueConfig is per-queue tuning: average service time feeding wait
// estimates, and the position threshold at which the "upcoming turn"
// notice fires.
type QueueConfig struct {
	ID                    int64     `db:"id"`
	QueueType             QueueType `db:"queue_type"`
	AvgServiceTimeMinutes int       `db:"avg_service_time_minutes"`
	NotificationThreshold int       `db:"notification_threshold"`
	Priority              int       `db:"priority"`
	Active                bool      `db:"active"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}
