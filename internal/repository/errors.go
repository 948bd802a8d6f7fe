package repository

import "errors"

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrAdvisorNotFound     = errors.New("advisor not found")
	ErrQueueConfigNotFound = errors.New("queue config not found")
)
