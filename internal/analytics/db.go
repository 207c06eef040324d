package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ms-conference-ticketing/internal/models"

	"github.com/uptrace/bun"
)

// DB runs the aggregate queries behind the sales report. Every query only
// counts paid orders and filters on paid_at.
type DB struct {
	bun *bun.DB
}

func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// Range bounds paid_at. A nil bound is open.
type Range struct {
	From *time.Time
	To   *time.Time
}

// paidFilter returns the WHERE clause shared by the report queries.
func paidFilter(r Range) (string, []interface{}) {
	clauses := []string{"o.status = ?"}
	args := []interface{}{models.OrderStatusPaid}
	if r.From != nil {
		clauses = append(clauses, "o.paid_at >= ?")
		args = append(args, r.From.UTC())
	}
	if r.To != nil {
		clauses = append(clauses, "o.paid_at < ?")
		args = append(args, r.To.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

type totalsRow struct {
	OrdersPaid     int   `bun:"orders_paid"`
	Revenue        int64 `bun:"revenue"`
	BeforeDiscount int64 `bun:"before_discount"`
	Discount       int64 `bun:"discount"`
	Tax            int64 `bun:"tax"`
}

func (db *DB) totals(ctx context.Context, r Range) (*totalsRow, error) {
	where, args := paidFilter(r)
	var row totalsRow
	err := db.bun.NewRaw(`
		SELECT
			COUNT(*) AS orders_paid,
			COALESCE(CAST(SUM(o.total_amount) AS BIGINT), 0) AS revenue,
			COALESCE(CAST(SUM(o.subtotal) AS BIGINT), 0) AS before_discount,
			COALESCE(CAST(SUM(o.discount_amount) AS BIGINT), 0) AS discount,
			COALESCE(CAST(SUM(o.tax_amount) AS BIGINT), 0) AS tax
		FROM orders o
		WHERE `+where, args...).Scan(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("sales totals: %w", err)
	}
	return &row, nil
}

func (db *DB) ticketsSold(ctx context.Context, r Range) (int, error) {
	where, args := paidFilter(r)
	var count int
	err := db.bun.NewRaw(`
		SELECT COALESCE(CAST(SUM(oi.quantity) AS BIGINT), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE `+where, args...).Scan(ctx, &count)
	if err != nil {
		return 0, fmt.Errorf("tickets sold: %w", err)
	}
	return count, nil
}

type dailySalesRow struct {
	SalesDate   sql.NullString `bun:"sales_date"`
	Orders      int            `bun:"orders"`
	Revenue     int64          `bun:"revenue"`
	TicketsSold int            `bun:"tickets_sold"`
}

// dailySales counts tickets per order first so an order with several lines
// adds its total once.
func (db *DB) dailySales(ctx context.Context, r Range) ([]dailySalesRow, error) {
	where, args := paidFilter(r)
	var rows []dailySalesRow
	err := db.bun.NewRaw(`
		SELECT
			DATE(o.paid_at) AS sales_date,
			COUNT(*) AS orders,
			COALESCE(CAST(SUM(o.total_amount) AS BIGINT), 0) AS revenue,
			COALESCE(CAST(SUM(q.quantity) AS BIGINT), 0) AS tickets_sold
		FROM orders o
		JOIN (
			SELECT order_id, SUM(quantity) AS quantity
			FROM order_items
			GROUP BY order_id
		) q ON q.order_id = o.id
		WHERE `+where+`
		GROUP BY DATE(o.paid_at)
		ORDER BY DATE(o.paid_at)`, args...).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("daily sales: %w", err)
	}
	return rows, nil
}

type ticketTypeRow struct {
	TicketTypeID   string `bun:"ticket_type_id"`
	TicketTypeName string `bun:"ticket_type_name"`
	TicketsSold    int    `bun:"tickets_sold"`
	Gross          int64  `bun:"gross"`
	Net            int64  `bun:"net"`
}

func (db *DB) salesByTicketType(ctx context.Context, r Range) ([]ticketTypeRow, error) {
	where, args := paidFilter(r)
	var rows []ticketTypeRow
	err := db.bun.NewRaw(`
		SELECT
			oi.ticket_type_id AS ticket_type_id,
			oi.ticket_type_name AS ticket_type_name,
			COALESCE(CAST(SUM(oi.quantity) AS BIGINT), 0) AS tickets_sold,
			COALESCE(CAST(SUM(oi.quantity * oi.unit_price) AS BIGINT), 0) AS gross,
			COALESCE(CAST(SUM(oi.quantity * oi.discounted_unit_price) AS BIGINT), 0) AS net
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE `+where+`
		GROUP BY oi.ticket_type_id, oi.ticket_type_name
		ORDER BY oi.ticket_type_id`, args...).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("sales by ticket type: %w", err)
	}
	return rows, nil
}

type promoUsageRow struct {
	UsageDate     sql.NullString `bun:"usage_date"`
	Code          string         `bun:"code"`
	Uses          int            `bun:"uses"`
	DiscountTotal int64          `bun:"discount_total"`
}

func (db *DB) promoUsage(ctx context.Context, r Range) ([]promoUsageRow, error) {
	where, args := paidFilter(r)
	var rows []promoUsageRow
	err := db.bun.NewRaw(`
		SELECT
			DATE(o.paid_at) AS usage_date,
			o.promo_code AS code,
			COUNT(*) AS uses,
			COALESCE(CAST(SUM(o.discount_amount) AS BIGINT), 0) AS discount_total
		FROM orders o
		WHERE `+where+` AND o.promo_code IS NOT NULL AND o.promo_code <> ''
		GROUP BY DATE(o.paid_at), o.promo_code
		ORDER BY DATE(o.paid_at), o.promo_code`, args...).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("promo usage: %w", err)
	}
	return rows, nil
}

// day trims a DATE value to YYYY-MM-DD. Postgres drivers hand it back as a
// timestamp, SQLite as text.
func day(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	if len(s.String) > 10 {
		return s.String[:10]
	}
	return s.String
}
