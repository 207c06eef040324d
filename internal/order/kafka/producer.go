package kafka

import (
	"context"
	"time"

	"ms-conference-ticketing/internal/models"
)

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// OrderEvents streams order lifecycle changes keyed by order id.
type OrderEvents struct {
	publisher Publisher
	topic     string
}

func NewOrderEvents(publisher Publisher, topic string) *OrderEvents {
	return &OrderEvents{publisher: publisher, topic: topic}
}

func (e *OrderEvents) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return e.publish(ctx, models.OrderEventCreated, order)
}

func (e *OrderEvents) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	return e.publish(ctx, models.OrderEventPaid, order)
}

func (e *OrderEvents) PublishOrderCancelled(ctx context.Context, order *models.Order) error {
	return e.publish(ctx, models.OrderEventCancelled, order)
}

func (e *OrderEvents) publish(ctx context.Context, typ models.OrderEventType, order *models.Order) error {
	return e.publisher.PublishJSON(ctx, e.topic, order.ID, models.OrderEvent{
		Type:       typ,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Total:      order.TotalAmount,
		Quantity:   order.Quantity(),
		OccurredAt: time.Now().UTC(),
	})
}
