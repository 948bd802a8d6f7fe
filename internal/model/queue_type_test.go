package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQueueType(t *testing.T) {
	q, ok := ParseQueueType("caja")
	assert.True(t, ok)
	assert.Equal(t, QueueCaja, q)

	q, ok = ParseQueueType("GERENCIA")
	assert.True(t, ok)
	assert.Equal(t, QueueGerencia, q)

	_, ok = ParseQueueType("premium")
	assert.False(t, ok)

	_, ok = ParseQueueType("")
	assert.False(t, ok)
}

func TestQueueTypeTopic(t *testing.T) {
	assert.Equal(t, "tickets.caja", QueueCaja.Topic())
	assert.Equal(t, "tickets.empresas", QueueEmpresas.Topic())
}

func TestAllQueueTypesOrdered(t *testing.T) {
	all := AllQueueTypes()
	assert.Equal(t, []QueueType{QueueCaja, QueuePersonal, QueueEmpresas, QueueGerencia}, all)
}
