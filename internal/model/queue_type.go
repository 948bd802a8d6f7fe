package model

import "strings"

type QueueType string

const (
	QueueCaja     QueueType = "CAJA"
	QueuePersonal QueueType = "PERSONAL"
	QueueEmpresas QueueType = "EMPRESAS"
	QueueGerencia QueueType = "GERENCIA"
)

func (q QueueType) String() string { return string(q) }

func (q QueueType) Valid() bool {
	switch q {
	case QueueCaja, QueuePersonal, QueueEmpresas, QueueGerencia:
		return true
	}
	return false
}

// DisplayName is the customer-facing queue name.
func (q QueueType) DisplayName() string {
	switch q {
	case QueueCaja:
		return "Caja"
	case QueuePersonal:
		return "Banca Personal"
	case QueueEmpresas:
		return "Banca Empresas"
	case QueueGerencia:
		return "Atención Gerencial"
	default:
		return string(q)
	}
}

// Topic returns the Kafka topic carrying creation messages for this queue.
func (q QueueType) Topic() string {
	return "tickets." + strings.ToLower(string(q))
}

// ParseQueueType normalizes input. Returns (value, true) if valid.
func ParseQueueType(s string) (QueueType, bool) {
	q := QueueType(strings.ToUpper(strings.TrimSpace(s)))
	return q, q.Valid()
}

// AllQueueTypes lists every queue type, in priority order.
func AllQueueTypes() []QueueType {
	return []QueueType{QueueCaja, QueuePersonal, QueueEmpresas, QueueGerencia}
}
