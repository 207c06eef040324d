package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/database/dbtest"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"
	orderdb "ms-conference-ticketing/internal/order/db"
	"ms-conference-ticketing/internal/tickets/db"
	"ms-conference-ticketing/internal/tickets/qr"
	"ms-conference-ticketing/internal/tickets/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PurchaseConfirmed(ctx context.Context, purchaser *models.User, order *models.Order, tickets []*models.Ticket) error {
	return m.Called(purchaser, order, tickets).Error(0)
}

func (m *MockNotifier) InviteSent(ctx context.Context, ticket *models.Ticket, purchaser *models.User, acceptURL string) error {
	return m.Called(ticket, purchaser, acceptURL).Error(0)
}

func (m *MockNotifier) InviteAccepted(ctx context.Context, ticket *models.Ticket, purchaser, attendee *models.User) error {
	return m.Called(ticket, purchaser, attendee).Error(0)
}

type fixture struct {
	svc      *service.TicketService
	bun      *bun.DB
	notifier *MockNotifier
}

func setup(t *testing.T) *fixture {
	bunDB := dbtest.New(t)
	dbtest.SeedUser(t, bunDB, "buyer", models.AccountTierCompany)
	dbtest.SeedUser(t, bunDB, "guest", models.AccountTierIndividual)
	dbtest.SeedTicketType(t, bunDB, "full", 30000, true)
	dbtest.SeedTicketType(t, bunDB, "party", 5000, true)

	gen, err := qr.NewGenerator("test-secret-key")
	require.NoError(t, err)

	notifier := new(MockNotifier)
	svc := service.NewTicketService(
		&db.DB{Bun: bunDB},
		&orderdb.DB{Bun: bunDB},
		notifier,
		gen,
		"https://conf.example.com/",
		logger.NewDiscard(),
	)
	return &fixture{svc: svc, bun: bunDB, notifier: notifier}
}

func paidOrder() *models.Order {
	return &models.Order{
		ID:     "o1",
		UserID: "buyer",
		Status: models.OrderStatusPaid,
		Items: []*models.OrderItem{
			{ID: "i1", OrderID: "o1", TicketTypeID: "full", Quantity: 2},
			{ID: "i2", OrderID: "o1", TicketTypeID: "party", Quantity: 1},
		},
	}
}

func issueOne(t *testing.T, f *fixture) *models.Ticket {
	t.Helper()
	tickets, _, err := f.svc.IssueForOrder(context.Background(), paidOrder())
	require.NoError(t, err)
	return tickets[0]
}

func TestIssueForOrderOneTicketPerUnit(t *testing.T) {
	f := setup(t)

	tickets, created, err := f.svc.IssueForOrder(context.Background(), paidOrder())
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	assert.Equal(t, 3, created)

	byType := map[string]int{}
	numbers := map[string]bool{}
	for _, tk := range tickets {
		byType[tk.TicketTypeID]++
		numbers[tk.TicketNumber] = true
		assert.Equal(t, models.TicketStatusUnassigned, tk.Status)
		assert.Equal(t, "buyer", tk.PurchaserID)
		assert.Nil(t, tk.AttendeeID)
		assert.True(t, strings.HasPrefix(tk.TicketNumber, "CONF-"))
	}
	assert.Equal(t, map[string]int{"full": 2, "party": 1}, byType)
	assert.Len(t, numbers, 3)
}

func TestIssueForOrderIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, _, err := f.svc.IssueForOrder(ctx, paidOrder())
	require.NoError(t, err)
	second, created, err := f.svc.IssueForOrder(ctx, paidOrder())
	require.NoError(t, err)

	assert.Zero(t, created)
	assert.Len(t, second, 3)
	assert.ElementsMatch(t, ids(first), ids(second))
}

func TestIssueForOrderFillsGaps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	partial := paidOrder()
	partial.Items = partial.Items[:1]
	_, _, err := f.svc.IssueForOrder(ctx, partial)
	require.NoError(t, err)

	tickets, created, err := f.svc.IssueForOrder(ctx, paidOrder())
	require.NoError(t, err)
	assert.Len(t, tickets, 3)
	assert.Equal(t, 1, created)
}

func TestIssueForOrderConcurrent(t *testing.T) {
	f := setup(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.IssueForOrder(context.Background(), paidOrder())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tickets, err := f.svc.ListByOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Len(t, tickets, 3)
}

func TestInviteFlow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ticket := issueOne(t, f)

	var acceptURL string
	f.notifier.On("InviteSent", mock.Anything, mock.MatchedBy(func(u *models.User) bool { return u.ID == "buyer" }), mock.Anything).
		Run(func(args mock.Arguments) { acceptURL = args.String(2) }).
		Return(nil).Once()

	url, err := f.svc.Invite(ctx, "buyer", ticket.ID, " guest@example.com ")
	require.NoError(t, err)
	assert.Equal(t, acceptURL, url)
	require.True(t, strings.HasPrefix(url, "https://conf.example.com/invite/"))
	token := strings.TrimPrefix(url, "https://conf.example.com/invite/")
	assert.GreaterOrEqual(t, len(token), 43, "256 bits of token")

	details, err := f.svc.InspectInvite(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketNumber, details.TicketNumber)
	assert.Equal(t, "Type full", details.TicketTypeName)
	assert.Equal(t, "User buyer", details.PurchaserName)
	assert.Equal(t, "guest@example.com", details.InviteEmail)

	f.notifier.On("InviteAccepted", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	assigned, err := f.svc.Accept(ctx, token, "guest")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusAssigned, assigned.Status)
	require.NotNil(t, assigned.AttendeeID)
	assert.Equal(t, "guest", *assigned.AttendeeID)
	assert.Nil(t, assigned.InviteToken)

	_, err = f.svc.InspectInvite(ctx, token)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.svc.Accept(ctx, token, "guest")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.svc.Invite(ctx, "buyer", ticket.ID, "other@example.com")
	assert.ErrorIs(t, err, apperror.ErrConflict, "assigned tickets cannot be re-invited")

	caps, err := (&db.DB{Bun: f.bun}).ListCapabilities(ctx, "guest")
	require.NoError(t, err)
	assert.Contains(t, caps, models.CapabilityAttendee)
	f.notifier.AssertExpectations(t)
}

func TestInviteSurvivesNotificationFailure(t *testing.T) {
	f := setup(t)
	ticket := issueOne(t, f)
	f.notifier.On("InviteSent", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := f.svc.Invite(context.Background(), "buyer", ticket.ID, "guest@example.com")
	require.NoError(t, err)

	got, err := (&db.DB{Bun: f.bun}).GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusInvited, got.Status)
}

func TestInviteRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ticket := issueOne(t, f)

	_, err := f.svc.Invite(ctx, "buyer", ticket.ID, "not-an-email")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.Invite(ctx, "guest", ticket.ID, "guest@example.com")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.svc.Invite(ctx, "buyer", "missing", "guest@example.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	f.notifier.On("InviteSent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	_, err = f.svc.Invite(ctx, "buyer", ticket.ID, "guest@example.com")
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, "buyer", ticket.ID, "guest@example.com")
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestResendInvite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ticket := issueOne(t, f)

	_, err := f.svc.ResendInvite(ctx, "buyer", ticket.ID)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	f.notifier.On("InviteSent", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()
	url, err := f.svc.Invite(ctx, "buyer", ticket.ID, "guest@example.com")
	require.NoError(t, err)
	again, err := f.svc.ResendInvite(ctx, "buyer", ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, url, again, "resend keeps the token")
	f.notifier.AssertExpectations(t)
}

func TestAcceptUnknownAttendee(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ticket := issueOne(t, f)
	f.notifier.On("InviteSent", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	url, err := f.svc.Invite(ctx, "buyer", ticket.ID, "guest@example.com")
	require.NoError(t, err)
	token := url[strings.LastIndex(url, "/")+1:]

	_, err = f.svc.Accept(ctx, token, "ghost")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.InspectInvite(ctx, token)
	assert.NoError(t, err, "failed accept leaves the invite usable")
}

func TestConcurrentAcceptOneWinner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ticket := issueOne(t, f)
	f.notifier.On("InviteSent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("InviteAccepted", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	url, err := f.svc.Invite(ctx, "buyer", ticket.ID, "guest@example.com")
	require.NoError(t, err)
	token := url[strings.LastIndex(url, "/")+1:]

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Accept(ctx, token, "guest")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, apperror.ErrConflict) || errors.Is(err, apperror.ErrNotFound), err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestQRCodeHolder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ticket := issueOne(t, f)

	png, err := f.svc.QRCode(ctx, "buyer", ticket.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	_, err = f.svc.QRCode(ctx, "guest", ticket.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.svc.QRCode(ctx, "buyer", "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestListForUserAndCounts(t *testing.T) {
	f := setup(t)
	issueOne(t, f)

	tickets, err := f.svc.ListForUser(context.Background(), "buyer")
	require.NoError(t, err)
	assert.Len(t, tickets, 3)

	counts, err := f.svc.GetTicketCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
}

func ids(tickets []*models.Ticket) []string {
	out := make([]string, len(tickets))
	for i, t := range tickets {
		out[i] = t.ID
	}
	return out
}
