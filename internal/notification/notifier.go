// Package notification hands user-facing messages to the email service.
// Rendering and delivery happen downstream; this side only publishes what
// happened and to whom.
package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"

	"github.com/google/uuid"
)

type Notifier interface {
	PurchaseConfirmed(ctx context.Context, purchaser *models.User, order *models.Order, tickets []*models.Ticket) error
	InviteSent(ctx context.Context, ticket *models.Ticket, purchaser *models.User, acceptURL string) error
	InviteAccepted(ctx context.Context, ticket *models.Ticket, purchaser, attendee *models.User) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// KafkaNotifier publishes one NotificationEvent per message, keyed by recipient.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	appName   string
}

func NewKafkaNotifier(publisher Publisher, topic, appName string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic, appName: appName}
}

func (n *KafkaNotifier) PurchaseConfirmed(ctx context.Context, purchaser *models.User, order *models.Order, tickets []*models.Ticket) error {
	return n.send(ctx, models.NotificationEvent{
		Type:      models.NotificationPurchaseConfirmed,
		Recipient: purchaser.Email,
		Subject:   fmt.Sprintf("[%s] Your order is confirmed", n.appName),
		Data: map[string]string{
			"name":        purchaser.FullName,
			"orderId":     order.ID,
			"total":       strconv.FormatInt(order.TotalAmount, 10),
			"ticketCount": strconv.Itoa(len(tickets)),
		},
	})
}

func (n *KafkaNotifier) InviteSent(ctx context.Context, ticket *models.Ticket, purchaser *models.User, acceptURL string) error {
	return n.send(ctx, models.NotificationEvent{
		Type:      models.NotificationInviteSent,
		Recipient: ticket.InviteEmail,
		Subject:   fmt.Sprintf("[%s] %s has invited you", n.appName, purchaser.FullName),
		Data: map[string]string{
			"purchaserName": purchaser.FullName,
			"ticketNumber":  ticket.TicketNumber,
			"acceptUrl":     acceptURL,
		},
	})
}

func (n *KafkaNotifier) InviteAccepted(ctx context.Context, ticket *models.Ticket, purchaser, attendee *models.User) error {
	return n.send(ctx, models.NotificationEvent{
		Type:      models.NotificationInviteAccepted,
		Recipient: purchaser.Email,
		Subject:   fmt.Sprintf("[%s] %s accepted your invitation", n.appName, attendee.FullName),
		Data: map[string]string{
			"purchaserName": purchaser.FullName,
			"attendeeName":  attendee.FullName,
			"attendeeEmail": attendee.Email,
			"ticketNumber":  ticket.TicketNumber,
		},
	})
}

func (n *KafkaNotifier) send(ctx context.Context, ev models.NotificationEvent) error {
	ev.ID = uuid.NewString()
	ev.OccurredAt = time.Now().UTC()
	if err := n.publisher.PublishJSON(ctx, n.topic, ev.Recipient, ev); err != nil {
		return fmt.Errorf("send %s notification: %w", ev.Type, err)
	}
	return nil
}

// LogNotifier only logs. It is used when Kafka is disabled.
type LogNotifier struct {
	Logger *logger.Logger
}

func (n LogNotifier) PurchaseConfirmed(_ context.Context, purchaser *models.User, order *models.Order, tickets []*models.Ticket) error {
	n.Logger.Info("NOTIFY", fmt.Sprintf("Purchase confirmed for %s: order %s, %d ticket(s)", purchaser.Email, order.ID, len(tickets)))
	return nil
}

func (n LogNotifier) InviteSent(_ context.Context, ticket *models.Ticket, _ *models.User, acceptURL string) error {
	n.Logger.Info("NOTIFY", fmt.Sprintf("Invite for ticket %s sent to %s: %s", ticket.TicketNumber, ticket.InviteEmail, acceptURL))
	return nil
}

func (n LogNotifier) InviteAccepted(_ context.Context, ticket *models.Ticket, purchaser, attendee *models.User) error {
	n.Logger.Info("NOTIFY", fmt.Sprintf("Ticket %s accepted by %s, notifying %s", ticket.TicketNumber, attendee.Email, purchaser.Email))
	return nil
}
