// Package dbtest builds an in-memory SQLite database with the service schema
// for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"ms-conference-ticketing/internal/models"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var tables = []interface{}{
	(*models.User)(nil),
	(*models.UserCapability)(nil),
	(*models.TicketType)(nil),
	(*models.PromoCode)(nil),
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.PromoCodeUse)(nil),
	(*models.Ticket)(nil),
}

// New returns a fresh database that is closed when the test ends.
func New(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// Each connection would get its own in-memory database.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, model := range tables {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func SeedUser(t *testing.T, db *bun.DB, id string, tier models.AccountTier) *models.User {
	t.Helper()
	u := &models.User{ID: id, Email: id + "@example.com", FullName: "User " + id, AccountTier: tier}
	_, err := db.NewInsert().Model(u).Exec(context.Background())
	require.NoError(t, err)
	return u
}

func SeedTicketType(t *testing.T, db *bun.DB, id string, price int64, active bool) *models.TicketType {
	t.Helper()
	tt := &models.TicketType{ID: id, Name: "Type " + id, Price: price, Active: active}
	_, err := db.NewInsert().Model(tt).Exec(context.Background())
	require.NoError(t, err)
	return tt
}

func SeedPromo(t *testing.T, db *bun.DB, p *models.PromoCode) *models.PromoCode {
	t.Helper()
	_, err := db.NewInsert().Model(p).Exec(context.Background())
	require.NoError(t, err)
	return p
}
