package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"bar-orders/internal/models"
)

// Producer streams order lifecycle events to downstream consumers
// (notifications, analytics). Publishing is best effort: the order
// transaction has already committed by the time an event goes out.
type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer}
}

type orderEvent struct {
	Type      string        `json:"type"`
	Order     *models.Order `json:"order"`
	Timestamp time.Time     `json:"timestamp"`
}

func (p *Producer) publish(eventType string, order *models.Order) error {
	if p.Writer == nil {
		return nil
	}
	msg, err := json.Marshal(orderEvent{
		Type:      eventType,
		Order:     order,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(strconv.FormatInt(order.ID, 10)),
		Value: msg,
	})
}

func (p *Producer) PublishOrderCreated(order *models.Order) error {
	return p.publish("order.created", order)
}

func (p *Producer) PublishOrderConfirmed(order *models.Order) error {
	return p.publish("order.confirmed", order)
}

func (p *Producer) PublishOrderCancelled(order *models.Order) error {
	return p.publish("order.cancelled", order)
}

func (p *Producer) PublishOrderRefunded(order *models.Order) error {
	return p.publish("order.refunded", order)
}

func (p *Producer) PublishOrderExpired(order *models.Order) error {
	return p.publish("order.expired", order)
}

func (p *Producer) Close() error {
	if p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}
