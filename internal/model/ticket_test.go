package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicketStatusTerminal(t *testing.T) {
	assert.True(t, TicketCompleted.Terminal())
	assert.True(t, TicketCancelled.Terminal())
	assert.True(t, TicketNoShow.Terminal())

	assert.False(t, TicketWaiting.Terminal())
	assert.False(t, TicketCalled.Terminal())
	assert.False(t, TicketInProgress.Terminal())
}

func TestTicketStatusActive(t *testing.T) {
	assert.True(t, TicketWaiting.Active())
	assert.True(t, TicketCalled.Active())
	assert.True(t, TicketInProgress.Active())
	assert.False(t, TicketCompleted.Active())
}

func TestAdvisorSupports(t *testing.T) {
	a := Advisor{QueueTypes: "CAJA,PERSONAL"}
	assert.True(t, a.Supports(QueueCaja))
	assert.True(t, a.Supports(QueuePersonal))
	assert.False(t, a.Supports(QueueGerencia))

	spaced := Advisor{QueueTypes: "CAJA, PERSONAL"}
	assert.True(t, spaced.Supports(QueuePersonal))

	none := Advisor{QueueTypes: ""}
	assert.False(t, none.Supports(QueueCaja))
}
