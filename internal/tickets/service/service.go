package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/database"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"
	"ms-conference-ticketing/internal/notification"
	"ms-conference-ticketing/internal/tickets/db"
	"ms-conference-ticketing/internal/utils"

	"github.com/google/uuid"
)

// issueAttempts bounds retries when a generated ticket number collides.
const issueAttempts = 3

type TicketDBLayer interface {
	InsertTickets(ctx context.Context, tickets []*models.Ticket) error
	ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Ticket, error)
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
	GetInvitedByToken(ctx context.Context, token string) (*models.Ticket, error)
	MarkInvited(ctx context.Context, ticketID, purchaserID, token, email string, at time.Time) (bool, error)
	TouchInvite(ctx context.Context, ticketID, purchaserID string, at time.Time) (bool, error)
	Assign(ctx context.Context, ticketID, token, attendeeID string, at time.Time) (bool, error)
	GrantCapability(ctx context.Context, userID, capability string) error
	GetTicketCounts(ctx context.Context) (*db.TicketCounts, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// QRRenderer turns a ticket into a PNG.
type QRRenderer interface {
	PNG(ticket *models.Ticket) ([]byte, error)
}

type TicketService struct {
	DB       TicketDBLayer
	Users    UserStore
	Notifier notification.Notifier
	QR       QRRenderer
	Logger   *logger.Logger
	BaseURL  string

	now       func() time.Time
	newNumber func() (string, error)
	newToken  func() (string, error)
}

func NewTicketService(store TicketDBLayer, users UserStore, notifier notification.Notifier, qr QRRenderer, baseURL string, log *logger.Logger) *TicketService {
	return &TicketService{
		DB:        store,
		Users:     users,
		Notifier:  notifier,
		QR:        qr,
		Logger:    log,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		now:       time.Now,
		newNumber: utils.GenerateTicketNumber,
		newToken:  utils.GenerateInviteToken,
	}
}

// AcceptURL is the link sent to an invitee.
func (s *TicketService) AcceptURL(token string) string {
	return s.BaseURL + "/invite/" + token
}

// IssueForOrder mints one unassigned ticket per purchased unit of a paid
// order. Units that already have a ticket are skipped, so calling it again
// for the same order only fills gaps. It returns all tickets of the order and
// how many of them this call created.
func (s *TicketService) IssueForOrder(ctx context.Context, order *models.Order) ([]*models.Ticket, int, error) {
	for attempt := 1; ; attempt++ {
		existing, err := s.DB.ListByOrder(ctx, order.ID)
		if err != nil {
			return nil, 0, err
		}

		missing, err := s.missingTickets(order, existing)
		if err != nil {
			return nil, 0, err
		}
		if len(missing) == 0 {
			return existing, 0, nil
		}

		err = s.DB.InsertTickets(ctx, missing)
		if err == nil {
			s.Logger.LogTicket("ISSUED", order.ID, fmt.Sprintf("Issued %d ticket(s)", len(missing)))
			all, err := s.DB.ListByOrder(ctx, order.ID)
			if err != nil {
				return nil, 0, err
			}
			return all, len(missing), nil
		}
		if !errors.Is(err, database.ErrDuplicate) || attempt == issueAttempts {
			return nil, 0, fmt.Errorf("issue tickets for order %s: %w", order.ID, err)
		}
		// Either a number collided or a concurrent issuer got there first.
		s.Logger.Warn("TICKET", fmt.Sprintf("Duplicate while issuing tickets for order %s, retrying (%d/%d)", order.ID, attempt, issueAttempts))
	}
}

func (s *TicketService) missingTickets(order *models.Order, existing []*models.Ticket) ([]*models.Ticket, error) {
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[fmt.Sprintf("%s/%d", t.OrderItemID, t.Seq)] = true
	}

	now := s.now().UTC()
	var out []*models.Ticket
	for _, item := range order.Items {
		for seq := 1; seq <= item.Quantity; seq++ {
			if have[fmt.Sprintf("%s/%d", item.ID, seq)] {
				continue
			}
			number, err := s.newNumber()
			if err != nil {
				return nil, err
			}
			out = append(out, &models.Ticket{
				ID:           uuid.NewString(),
				TicketNumber: number,
				OrderID:      order.ID,
				OrderItemID:  item.ID,
				Seq:          seq,
				TicketTypeID: item.TicketTypeID,
				PurchaserID:  order.UserID,
				Status:       models.TicketStatusUnassigned,
				IssuedAt:     now,
			})
		}
	}
	return out, nil
}

// Invite sends an unassigned ticket to email. The state change is committed
// before the email goes out; a failed email is logged and can be resent.
func (s *TicketService) Invite(ctx context.Context, purchaserID, ticketID, email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", apperror.Validation("invalid email address")
	}

	ticket, err := s.ownedTicket(ctx, purchaserID, ticketID)
	if err != nil {
		return "", err
	}
	if ticket.Status != models.TicketStatusUnassigned {
		return "", apperror.Conflict("ticket has already been invited or assigned")
	}

	token, err := s.newToken()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	ok, err := s.DB.MarkInvited(ctx, ticket.ID, purchaserID, token, addr.Address, now)
	if err != nil {
		return "", fmt.Errorf("mark ticket invited: %w", err)
	}
	if !ok {
		return "", apperror.Conflict("ticket has already been invited or assigned")
	}
	s.Logger.LogTicket("INVITED", ticket.ID, fmt.Sprintf("Invite sent to %s", addr.Address))

	ticket.Status = models.TicketStatusInvited
	ticket.InviteToken = &token
	ticket.InviteEmail = addr.Address
	ticket.InvitedAt = &now

	acceptURL := s.AcceptURL(token)
	s.sendInvite(ctx, ticket, purchaserID, acceptURL)
	return acceptURL, nil
}

// ResendInvite re-sends the email of a ticket that is still invited.
func (s *TicketService) ResendInvite(ctx context.Context, purchaserID, ticketID string) (string, error) {
	ticket, err := s.ownedTicket(ctx, purchaserID, ticketID)
	if err != nil {
		return "", err
	}
	if ticket.Status != models.TicketStatusInvited || ticket.InviteToken == nil {
		return "", apperror.Conflict("ticket has no pending invite")
	}

	ok, err := s.DB.TouchInvite(ctx, ticket.ID, purchaserID, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("touch invite: %w", err)
	}
	if !ok {
		return "", apperror.Conflict("ticket has no pending invite")
	}

	acceptURL := s.AcceptURL(*ticket.InviteToken)
	s.sendInvite(ctx, ticket, purchaserID, acceptURL)
	return acceptURL, nil
}

func (s *TicketService) sendInvite(ctx context.Context, ticket *models.Ticket, purchaserID, acceptURL string) {
	purchaser, err := s.Users.GetUser(ctx, purchaserID)
	if err != nil {
		s.Logger.Error("NOTIFY", fmt.Sprintf("Invite email for ticket %s not sent, purchaser lookup failed: %v", ticket.ID, err))
		return
	}
	if err := s.Notifier.InviteSent(ctx, ticket, purchaser, acceptURL); err != nil {
		s.Logger.Error("NOTIFY", fmt.Sprintf("Invite email for ticket %s failed: %v", ticket.ID, err))
	}
}

// InspectInvite resolves a pending invite. Consumed and unknown tokens look
// the same to the caller.
func (s *TicketService) InspectInvite(ctx context.Context, token string) (*models.InviteDetails, error) {
	ticket, err := s.invitedTicket(ctx, token)
	if err != nil {
		return nil, err
	}

	details := &models.InviteDetails{
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
		InviteEmail:  ticket.InviteEmail,
	}
	if ticket.TicketType != nil {
		details.TicketTypeName = ticket.TicketType.Name
	}
	if purchaser, err := s.Users.GetUser(ctx, ticket.PurchaserID); err == nil {
		details.PurchaserName = purchaser.FullName
	} else {
		s.Logger.Warn("TICKET", fmt.Sprintf("Purchaser %s of ticket %s not found: %v", ticket.PurchaserID, ticket.ID, err))
	}
	return details, nil
}

// Accept assigns the invited ticket to attendeeID. Of two concurrent
// accepts with the same token exactly one succeeds; the other gets a
// conflict.
func (s *TicketService) Accept(ctx context.Context, token, attendeeID string) (*models.Ticket, error) {
	ticket, err := s.invitedTicket(ctx, token)
	if err != nil {
		return nil, err
	}

	attendee, err := s.Users.GetUser(ctx, attendeeID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperror.Validation("attendee account does not exist")
		}
		return nil, err
	}

	ok, err := s.DB.Assign(ctx, ticket.ID, token, attendee.ID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("assign ticket: %w", err)
	}
	if !ok {
		return nil, apperror.Conflict("invite has already been used")
	}
	s.Logger.LogTicket("ASSIGNED", ticket.ID, fmt.Sprintf("Assigned to %s", attendee.ID))

	if err := s.DB.GrantCapability(ctx, attendee.ID, models.CapabilityAttendee); err != nil {
		s.Logger.Error("TICKET", fmt.Sprintf("Failed to grant attendee capability to %s: %v", attendee.ID, err))
	}

	assigned, err := s.DB.GetByID(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}

	if purchaser, err := s.Users.GetUser(ctx, ticket.PurchaserID); err != nil {
		s.Logger.Error("NOTIFY", fmt.Sprintf("Acceptance notice for ticket %s not sent, purchaser lookup failed: %v", ticket.ID, err))
	} else if err := s.Notifier.InviteAccepted(ctx, assigned, purchaser, attendee); err != nil {
		s.Logger.Error("NOTIFY", fmt.Sprintf("Acceptance notice for ticket %s failed: %v", ticket.ID, err))
	}
	return assigned, nil
}

func (s *TicketService) ListForUser(ctx context.Context, userID string) ([]*models.Ticket, error) {
	tickets, err := s.DB.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for user %s: %w", userID, err)
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	return tickets, nil
}

func (s *TicketService) ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	return s.DB.ListByOrder(ctx, orderID)
}

// QRCode renders the entry code. Only the attendee may fetch it, or the
// purchaser while the ticket has no attendee yet.
func (s *TicketService) QRCode(ctx context.Context, userID, ticketID string) ([]byte, error) {
	ticket, err := s.DB.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperror.NotFound("ticket not found")
		}
		return nil, err
	}

	holder := ticket.PurchaserID
	if ticket.AttendeeID != nil {
		holder = *ticket.AttendeeID
	}
	if holder != userID {
		return nil, apperror.Forbidden("ticket belongs to another user")
	}

	png, err := s.QR.PNG(ticket)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR: %w", err)
	}
	return png, nil
}

func (s *TicketService) GetTicketCounts(ctx context.Context) (*db.TicketCounts, error) {
	return s.DB.GetTicketCounts(ctx)
}

func (s *TicketService) ownedTicket(ctx context.Context, purchaserID, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperror.NotFound("ticket not found")
		}
		return nil, err
	}
	if ticket.PurchaserID != purchaserID {
		return nil, apperror.Forbidden("ticket belongs to another user")
	}
	return ticket, nil
}

func (s *TicketService) invitedTicket(ctx context.Context, token string) (*models.Ticket, error) {
	if token == "" {
		return nil, apperror.NotFound("invite not found")
	}
	ticket, err := s.DB.GetInvitedByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperror.NotFound("invite not found")
		}
		return nil, err
	}
	return ticket, nil
}
