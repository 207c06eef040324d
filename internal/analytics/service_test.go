package analytics_test

import (
	"context"
	"testing"
	"time"

	"ms-conference-ticketing/internal/analytics"
	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/database/dbtest"
	"ms-conference-ticketing/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type line struct {
	typeID     string
	qty        int
	unit       int64
	discounted int64
}

func seedOrder(t *testing.T, db *bun.DB, o *models.Order, lines ...line) {
	t.Helper()
	ctx := context.Background()
	o.UserID = "buyer"
	o.PaymentMethod = models.PaymentMethodCard
	o.UpdatedAt = o.CreatedAt
	_, err := db.NewInsert().Model(o).Exec(ctx)
	require.NoError(t, err)

	for i, l := range lines {
		item := &models.OrderItem{
			ID:                  o.ID + "-" + string(rune('a'+i)),
			OrderID:             o.ID,
			TicketTypeID:        l.typeID,
			TicketTypeName:      "Type " + l.typeID,
			Quantity:            l.qty,
			UnitPrice:           l.unit,
			DiscountedUnitPrice: l.discounted,
			CreatedAt:           o.CreatedAt,
		}
		_, err := db.NewInsert().Model(item).Exec(ctx)
		require.NoError(t, err)
	}
}

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func setup(t *testing.T) *analytics.Service {
	db := dbtest.New(t)
	dbtest.SeedUser(t, db, "buyer", models.AccountTierCompany)

	seedOrder(t, db, &models.Order{
		ID: "o-member", Status: models.OrderStatusPaid,
		Subtotal: 60000, DiscountAmount: 12000, TaxAmount: 10560, TotalAmount: 58560,
		PromoCode: "MEMBER", CreatedAt: *at("2026-03-01T09:55:00Z"), PaidAt: at("2026-03-01T10:00:00Z"),
	}, line{"full", 2, 30000, 24000})

	seedOrder(t, db, &models.Order{
		ID: "o-plain", Status: models.OrderStatusPaid,
		Subtotal: 35000, TaxAmount: 7700, TotalAmount: 42700,
		CreatedAt: *at("2026-03-02T08:00:00Z"), PaidAt: at("2026-03-02T09:00:00Z"),
	}, line{"full", 1, 30000, 30000}, line{"party", 1, 5000, 5000})

	seedOrder(t, db, &models.Order{
		ID: "o-open", Status: models.OrderStatusPending,
		Subtotal: 30000, TaxAmount: 6600, TotalAmount: 36600,
		CreatedAt: *at("2026-03-03T08:00:00Z"),
	}, line{"full", 1, 30000, 30000})

	return analytics.NewService(db)
}

func TestSalesReportCountsPaidOrdersOnly(t *testing.T) {
	svc := setup(t)

	report, err := svc.SalesReport(context.Background(), analytics.Range{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.OrdersPaid)
	assert.Equal(t, int64(101260), report.TotalRevenue)
	assert.Equal(t, int64(95000), report.TotalBeforeDiscount)
	assert.Equal(t, int64(12000), report.TotalDiscount)
	assert.Equal(t, int64(18260), report.TotalTax)
	assert.Equal(t, 4, report.TicketsSold)

	assert.Equal(t, []analytics.DailySales{
		{Date: "2026-03-01", Orders: 1, Revenue: 58560, TicketsSold: 2},
		{Date: "2026-03-02", Orders: 1, Revenue: 42700, TicketsSold: 2},
	}, report.DailySales)

	assert.Equal(t, []analytics.TicketTypeSales{
		{TicketTypeID: "full", TicketTypeName: "Type full", TicketsSold: 3, Gross: 90000, Net: 78000},
		{TicketTypeID: "party", TicketTypeName: "Type party", TicketsSold: 1, Gross: 5000, Net: 5000},
	}, report.SalesByTicketType)

	assert.Equal(t, []analytics.PromoUsage{
		{Date: "2026-03-01", Code: "MEMBER", Uses: 1, DiscountTotal: 12000},
	}, report.PromoUsage)
}

func TestSalesReportRange(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	report, err := svc.SalesReport(ctx, analytics.Range{From: at("2026-03-02T00:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrdersPaid)
	assert.Equal(t, int64(42700), report.TotalRevenue)
	assert.Empty(t, report.PromoUsage)

	report, err = svc.SalesReport(ctx, analytics.Range{From: at("2030-01-01T00:00:00Z")})
	require.NoError(t, err)
	assert.Zero(t, report.OrdersPaid)
	assert.Zero(t, report.TicketsSold)
	assert.NotNil(t, report.DailySales)
	assert.Empty(t, report.DailySales)

	_, err = svc.SalesReport(ctx, analytics.Range{From: at("2026-03-02T00:00:00Z"), To: at("2026-03-01T00:00:00Z")})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestListOrders(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	all, err := svc.ListOrders(ctx, analytics.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "o-open", all[0].ID, "newest first by default")
	assert.Len(t, all[1].Items, 2)

	paid, err := svc.ListOrders(ctx, analytics.OrderFilter{Status: models.OrderStatusPaid, SortBy: "total", SortDesc: true})
	require.NoError(t, err)
	require.Len(t, paid, 2)
	assert.Equal(t, "o-member", paid[0].ID)

	page, err := svc.ListOrders(ctx, analytics.OrderFilter{SortBy: "created_at", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "o-plain", page[0].ID)

	none, err := svc.ListOrders(ctx, analytics.OrderFilter{UserID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
