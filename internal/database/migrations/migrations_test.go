package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ms-conference-ticketing/internal/logger"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "conf",
				"POSTGRES_PASSWORD": "conf",
				"POSTGRES_DB":       "conf",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://conf:conf@%s:%s/conf?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestRunnerSchemaAndSeed(t *testing.T) {
	db := startPostgres(t)
	log := logger.NewDiscard()

	runner := NewRunner(db, Options{SeedData: false}, log)
	require.NoError(t, runner.Run())

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM ticket_types`).Scan(&count))
	assert.Equal(t, 0, count)

	runner.options.SeedData = true
	require.NoError(t, runner.Run())
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM ticket_types`).Scan(&count))
	assert.Equal(t, 4, count)

	// Running again is a no-op.
	require.NoError(t, runner.Run())
}

func TestTicketNumberIsUnique(t *testing.T) {
	db := startPostgres(t)
	runner := NewRunner(db, Options{SeedData: true}, logger.NewDiscard())
	require.NoError(t, runner.Run())

	_, err := db.Exec(`INSERT INTO users (id, email, full_name) VALUES ('u1', 'u1@example.com', 'U One')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO orders (id, user_id, status, payment_method, subtotal, discount_amount, tax_amount, total_amount)
		VALUES ('o1', 'u1', 'paid', 'card', 30000, 0, 3000, 33000)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO order_items (id, order_id, ticket_type_id, ticket_type_name, quantity, unit_price, discounted_unit_price)
		VALUES ('i1', 'o1', 'full-package', 'Full Package', 2, 30000, 30000)`)
	require.NoError(t, err)

	insert := `INSERT INTO tickets (id, ticket_number, order_id, order_item_id, seq, ticket_type_id, purchaser_id, status)
		VALUES ($1, $2, 'o1', 'i1', $3, 'full-package', 'u1', 'unassigned')`
	_, err = db.Exec(insert, "t1", "CONF-AAAA", 1)
	require.NoError(t, err)

	_, err = db.Exec(insert, "t2", "CONF-AAAA", 2)
	assert.Error(t, err, "duplicate ticket number must be rejected")

	_, err = db.Exec(insert, "t3", "CONF-BBBB", 1)
	assert.Error(t, err, "second ticket for the same unit must be rejected")

	_, err = db.Exec(`UPDATE tickets SET status = 'assigned' WHERE id = 't1'`)
	assert.Error(t, err, "assigned without attendee must be rejected")
}
