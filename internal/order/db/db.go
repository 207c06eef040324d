package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-conference-ticketing/internal/database"
	"ms-conference-ticketing/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type DB struct {
	Bun *bun.DB
}

// PaymentReference is what the payment provider hands back for a new order.
type PaymentReference struct {
	SessionID string
	URL       string
	PDFURL    string
	DueAt     *time.Time
}

// ---------------- CATALOG ----------------

func (d *DB) ListTicketTypes(ctx context.Context, activeOnly bool) ([]*models.TicketType, error) {
	var types []*models.TicketType
	q := d.Bun.NewSelect().Model(&types).Order("sort_order ASC", "name ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list ticket types: %w", err)
	}
	return types, nil
}

// GetTicketTypes returns the requested types keyed by id. Missing ids are
// simply absent from the map.
func (d *DB) GetTicketTypes(ctx context.Context, ids []string) (map[string]*models.TicketType, error) {
	out := make(map[string]*models.TicketType, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var types []*models.TicketType
	err := d.Bun.NewSelect().
		Model(&types).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get ticket types: %w", err)
	}
	for _, t := range types {
		out[t.ID] = t
	}
	return out, nil
}

// ---------------- USERS ----------------

func (d *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().Model(&user).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, database.Translate(err)
	}
	return &user, nil
}

// CountHeldTickets sums ticket units on the user's pending and paid orders.
func (d *DB) CountHeldTickets(ctx context.Context, userID string) (int, error) {
	return countHeld(ctx, d.Bun, userID)
}

func countHeld(ctx context.Context, db bun.IDB, userID string) (int, error) {
	var total int
	err := db.NewSelect().
		TableExpr("order_items AS oi").
		ColumnExpr("COALESCE(SUM(oi.quantity), 0)").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		Where("o.user_id = ?", userID).
		Where("o.status IN (?)", bun.In([]string{string(models.OrderStatusPending), string(models.OrderStatusPaid)})).
		Scan(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("count held tickets: %w", err)
	}
	return total, nil
}

// ---------------- PROMO CODES ----------------

func (d *DB) GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := d.Bun.NewSelect().
		Model(&promo).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Translate(err)
	}
	return &promo, nil
}

func (d *DB) GetPromoByID(ctx context.Context, id string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := d.Bun.NewSelect().Model(&promo).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, database.Translate(err)
	}
	return &promo, nil
}

func (d *DB) CountUserPromoUses(ctx context.Context, promoID, userID string) (int, error) {
	n, err := d.Bun.NewSelect().
		Model((*models.PromoCodeUse)(nil)).
		Where("promo_code_id = ?", promoID).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count promo uses: %w", err)
	}
	return n, nil
}

// ---------------- ORDERS ----------------

func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := d.Bun.NewInsert().Model(order).Exec(ctx)
	return database.Translate(err)
}

func (d *DB) CreateOrderItems(ctx context.Context, items []*models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&items).Exec(ctx)
	return database.Translate(err)
}

// CreateOrderWithinHoldLimit writes the order and its items only if the
// buyer's held units plus this order stay within limit. It reports false,
// writing nothing, when they would not. The count and the inserts share one
// transaction; on Postgres the buyer's row is locked first so concurrent
// checkouts of the same buyer are serialized.
func (d *DB) CreateOrderWithinHoldLimit(ctx context.Context, order *models.Order, limit int) (bool, error) {
	created := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if d.Bun.Dialect().Name() == dialect.PG {
			_, err := tx.NewSelect().
				Model((*models.User)(nil)).
				Column("id").
				Where("id = ?", order.UserID).
				For("UPDATE").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("lock user: %w", err)
			}
		}

		held, err := countHeld(ctx, tx, order.UserID)
		if err != nil {
			return err
		}
		if held+order.Quantity() > limit {
			return nil
		}

		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return database.Translate(err)
		}
		if len(order.Items) > 0 {
			if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
				return database.Translate(err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// DeleteOrder removes an order and its items unconditionally. It backs out
// a checkout that failed half way.
func (d *DB) DeleteOrder(ctx context.Context, orderID string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.OrderItem)(nil)).Where("order_id = ?", orderID).Exec(ctx); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		if _, err := tx.NewDelete().Model((*models.Order)(nil)).Where("id = ?", orderID).Exec(ctx); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		return nil
	})
}

func (d *DB) SetPaymentReference(ctx context.Context, orderID string, ref PaymentReference) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_session_id = ?", ref.SessionID).
		Set("payment_url = ?", ref.URL).
		Set("invoice_pdf_url = ?", nullString(ref.PDFURL)).
		Set("payment_due_at = ?", ref.DueAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set payment reference: %w", err)
	}
	return nil
}

// GetOrder loads an order with its items.
func (d *DB) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at ASC", "id ASC")
		}).
		Where("\"order\".\"id\" = ?", orderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Translate(err)
	}
	return &order, nil
}

func (d *DB) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("\"order\".\"user_id\" = ?", userID).
		Order("order.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// MarkPaid moves a pending order to paid and records its promo use in the
// same transaction. It reports false without error when the order is not
// pending any more (already paid, cancelled or deleted).
func (d *DB) MarkPaid(ctx context.Context, orderID, paymentIntentID string, paidAt time.Time) (bool, error) {
	var transitioned bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", models.OrderStatusPaid).
			Set("paid_at = ?", paidAt).
			Set("payment_intent_id = ?", nullString(paymentIntentID)).
			Set("updated_at = ?", paidAt).
			Where("id = ?", orderID).
			Where("status = ?", models.OrderStatusPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		transitioned = true

		var order models.Order
		err = tx.NewSelect().
			Model(&order).
			Column("id", "user_id", "promo_code_id").
			Where("id = ?", orderID).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		if order.PromoCodeID == nil {
			return nil
		}

		use := &models.PromoCodeUse{
			ID:          uuid.NewString(),
			PromoCodeID: *order.PromoCodeID,
			OrderID:     order.ID,
			UserID:      order.UserID,
			UsedAt:      paidAt,
		}
		if _, err := tx.NewInsert().Model(use).Exec(ctx); err != nil {
			return fmt.Errorf("record promo use: %w", database.Translate(err))
		}
		_, err = tx.NewUpdate().
			Model((*models.PromoCode)(nil)).
			Set("current_uses = current_uses + 1").
			Where("id = ?", use.PromoCodeID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("increment promo uses: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return transitioned, nil
}

// CancelPendingOrder hard-deletes a pending order owned by userID together
// with its items and promo use. The status flip to cancelled claims the row
// first, so a concurrent MarkPaid either wins before it or finds nothing.
func (d *DB) CancelPendingOrder(ctx context.Context, orderID, userID string) (bool, error) {
	var cancelled bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", models.OrderStatusCancelled).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", orderID).
			Where("user_id = ?", userID).
			Where("status = ?", models.OrderStatusPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("claim order: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		if _, err := tx.NewDelete().Model((*models.OrderItem)(nil)).Where("order_id = ?", orderID).Exec(ctx); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		if _, err := tx.NewDelete().Model((*models.PromoCodeUse)(nil)).Where("order_id = ?", orderID).Exec(ctx); err != nil {
			return fmt.Errorf("delete promo uses: %w", err)
		}
		if _, err := tx.NewDelete().Model((*models.Order)(nil)).Where("id = ?", orderID).Exec(ctx); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
