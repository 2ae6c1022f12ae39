package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"climate-analytics/internal/app"
	"climate-analytics/internal/config"
	"climate-analytics/pkg/database"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

func main() {
	direction := flag.String("direction", database.Up, "Migration direction: up or down")
	flag.Parse()

	if *direction != database.Up && *direction != database.Down {
		fmt.Fprintf(os.Stderr, "Invalid direction %q, expected up or down\n", *direction)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("climate-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	db, err := database.Open(app.DatabaseConfig(cfg.Database), logger, metrics.NewCollector("climate_migrate"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", db.Driver())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Running migrations: %s\n", *direction)
	if err := db.Migrate(ctx, *direction); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
