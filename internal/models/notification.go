package models

import "time"

type NotificationType string

const (
	NotificationPurchaseConfirmed NotificationType = "purchase_confirmed"
	NotificationInviteSent        NotificationType = "invite_sent"
	NotificationInviteAccepted    NotificationType = "invite_accepted"
)

// NotificationEvent is the message the email service consumes.
type NotificationEvent struct {
	ID         string            `json:"id"`
	Type       NotificationType  `json:"type"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	Data       map[string]string `json:"data"`
	OccurredAt time.Time         `json:"occurredAt"`
}

type OrderEventType string

const (
	OrderEventCreated   OrderEventType = "order_created"
	OrderEventPaid      OrderEventType = "order_paid"
	OrderEventCancelled OrderEventType = "order_cancelled"
)

// OrderEvent is streamed for downstream consumers such as reporting.
type OrderEvent struct {
	Type       OrderEventType `json:"type"`
	OrderID    string         `json:"orderId"`
	UserID     string         `json:"userId"`
	Total      int64          `json:"total"`
	Quantity   int            `json:"quantity"`
	OccurredAt time.Time      `json:"occurredAt"`
}
