package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"ms-conference-ticketing/internal/config"
	"ms-conference-ticketing/internal/database/migrations"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

func main() {
	seed := flag.Bool("seed", false, "also apply the catalog seed migrations")
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logger := logger.NewLogger("migrate")
	defer logger.Close()

	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "DATABASE_URL not set")
	}

	ctx := context.Background()
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	if err := sqldb.PingContext(ctx); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	runner := migrations.NewRunner(sqldb, migrations.Options{SeedData: *seed}, logger)
	// Closing the runner also closes sqldb.
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Error("MIGRATE", err.Error())
		}
	}()

	if *down {
		logger.Warn("MIGRATE", "Rolling back all migrations")
		if err := runner.Down(); err != nil {
			logger.Error("MIGRATE", err.Error())
			os.Exit(1)
		}
		logger.Info("MIGRATE", "Rollback complete")
		return
	}

	if err := runner.Run(); err != nil {
		logger.Error("MIGRATE", err.Error())
		os.Exit(1)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	n, err := db.NewSelect().Model((*models.TicketType)(nil)).Where("active = ?", true).Count(ctx)
	if err != nil {
		logger.Warn("MIGRATE", fmt.Sprintf("Could not count ticket types: %v", err))
		return
	}
	logger.Info("MIGRATE", fmt.Sprintf("Done, %d active ticket type(s) in the catalog", n))
}
