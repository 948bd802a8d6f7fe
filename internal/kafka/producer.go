package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers []string
}

// Producer writes messages to per-queue topics. RequireAll acks so a
// publish only succeeds once the broker has durably accepted it.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{w: w}
}

// Publish delivers payload to topic. outboxID and eventType travel as
// headers for traceability; outboxID 0 means the publish did not come
// from an outbox row (e.g. a recovery requeue).
func (p *Producer) Publish(ctx context.Context, topic string, key, payload []byte, outboxID int64, eventType string) error {
	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(eventType)},
	}
	if outboxID > 0 {
		headers = append(headers, kafka.Header{
			Key:   "outbox_id",
			Value: []byte(strconv.FormatInt(outboxID, 10)),
		})
	}

	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   payload,
		Headers: headers,
	})
}

// Republish puts a consumed message back on its topic for another
// delivery, carrying the redelivery count so consumers can stop a
// message that keeps failing.
func (p *Producer) Republish(ctx context.Context, topic string, key, payload []byte, eventType string, redeliveries int) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "redeliveries", Value: []byte(strconv.Itoa(redeliveries))},
		},
	})
}

func (p *Producer) Close() error { return p.w.Close() }
