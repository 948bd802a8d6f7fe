package model

// QueueMessage is the payload carried on the per-queue Kafka topics.
// It is also what the outbox stores as the serialized payload.
type QueueMessage struct {
	TicketID  int64     `json:"ticketId"`
	Numero    string    `json:"numero"`
	QueueType QueueType `json:"queueType"`
	Telefono  string    `json:"telefono"`
}
