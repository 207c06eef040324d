package analytics

import (
	"context"
	"fmt"
	"strings"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/models"

	"github.com/uptrace/bun"
)

// Service builds the organizer views over the order book. Amounts are in
// minor currency units.
type Service struct {
	db    *bun.DB
	query *DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db, query: NewDB(db)}
}

// SalesReport aggregates paid orders.
type SalesReport struct {
	OrdersPaid          int               `json:"ordersPaid"`
	TotalRevenue        int64             `json:"totalRevenue"`
	TotalBeforeDiscount int64             `json:"totalBeforeDiscount"`
	TotalDiscount       int64             `json:"totalDiscount"`
	TotalTax            int64             `json:"totalTax"`
	TicketsSold         int               `json:"ticketsSold"`
	DailySales          []DailySales      `json:"dailySales"`
	SalesByTicketType   []TicketTypeSales `json:"salesByTicketType"`
	PromoUsage          []PromoUsage      `json:"promoUsage"`
}

type DailySales struct {
	Date        string `json:"date"`
	Orders      int    `json:"orders"`
	Revenue     int64  `json:"revenue"`
	TicketsSold int    `json:"ticketsSold"`
}

// TicketTypeSales is the pre-tax take of one ticket type. Gross uses the list
// price, Net the price after discounts.
type TicketTypeSales struct {
	TicketTypeID   string `json:"ticketTypeId"`
	TicketTypeName string `json:"ticketTypeName"`
	TicketsSold    int    `json:"ticketsSold"`
	Gross          int64  `json:"gross"`
	Net            int64  `json:"net"`
}

type PromoUsage struct {
	Date          string `json:"date"`
	Code          string `json:"code"`
	Uses          int    `json:"uses"`
	DiscountTotal int64  `json:"discountTotal"`
}

func (s *Service) SalesReport(ctx context.Context, r Range) (*SalesReport, error) {
	if r.From != nil && r.To != nil && !r.From.Before(*r.To) {
		return nil, apperror.Validation("from must be before to")
	}

	totals, err := s.query.totals(ctx, r)
	if err != nil {
		return nil, err
	}
	sold, err := s.query.ticketsSold(ctx, r)
	if err != nil {
		return nil, err
	}

	report := &SalesReport{
		OrdersPaid:          totals.OrdersPaid,
		TotalRevenue:        totals.Revenue,
		TotalBeforeDiscount: totals.BeforeDiscount,
		TotalDiscount:       totals.Discount,
		TotalTax:            totals.Tax,
		TicketsSold:         sold,
		DailySales:          []DailySales{},
		SalesByTicketType:   []TicketTypeSales{},
		PromoUsage:          []PromoUsage{},
	}

	daily, err := s.query.dailySales(ctx, r)
	if err != nil {
		return nil, err
	}
	for _, row := range daily {
		report.DailySales = append(report.DailySales, DailySales{
			Date:        day(row.SalesDate),
			Orders:      row.Orders,
			Revenue:     row.Revenue,
			TicketsSold: row.TicketsSold,
		})
	}

	byType, err := s.query.salesByTicketType(ctx, r)
	if err != nil {
		return nil, err
	}
	for _, row := range byType {
		report.SalesByTicketType = append(report.SalesByTicketType, TicketTypeSales(row))
	}

	promos, err := s.query.promoUsage(ctx, r)
	if err != nil {
		return nil, err
	}
	for _, row := range promos {
		report.PromoUsage = append(report.PromoUsage, PromoUsage{
			Date:          day(row.UsageDate),
			Code:          row.Code,
			Uses:          row.Uses,
			DiscountTotal: row.DiscountTotal,
		})
	}

	return report, nil
}

// OrderSortField defines the valid fields for sorting orders
type OrderSortField string

const (
	OrderSortByTotal     OrderSortField = "total"
	OrderSortByCreatedAt OrderSortField = "created_at"
)

// OrderFilter narrows the order book. Limit 0 means no limit.
type OrderFilter struct {
	Status   models.OrderStatus
	UserID   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// ListOrders returns orders of every buyer with their line items.
func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
	orders := []*models.Order{}
	q := s.db.NewSelect().
		Model(&orders).
		Relation("Items")

	if f.Status != "" {
		q = q.Where("?TableAlias.status = ?", f.Status)
	}
	if f.UserID != "" {
		q = q.Where("?TableAlias.user_id = ?", f.UserID)
	}

	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}
	switch OrderSortField(strings.ToLower(f.SortBy)) {
	case OrderSortByTotal:
		q = q.OrderExpr("?TableAlias.total_amount " + direction).OrderExpr("?TableAlias.id ASC")
	case OrderSortByCreatedAt:
		q = q.OrderExpr("?TableAlias.created_at " + direction).OrderExpr("?TableAlias.id ASC")
	default:
		// Newest first.
		q = q.OrderExpr("?TableAlias.created_at DESC").OrderExpr("?TableAlias.id ASC")
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
