package main

import (
	"context"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"portview/internal/database"
	"portview/internal/ingest"
	"portview/internal/marketdata"
)

// One-shot price ingestion, meant to run from cron once a day after market
// close. Safe to re-run: rows already present are skipped.
func main() {
	godotenv.Load()
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}
	apiKey := os.Getenv("ALPHAVANTAGE_API_KEY")
	if apiKey == "" {
		log.Fatal("ALPHAVANTAGE_API_KEY is required")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer db.Close()

	logger := logrus.New()
	repo := database.New(db, logger)
	market := marketdata.NewClient(apiKey)

	stats, err := ingest.New(market, repo, logger).Run(context.Background())
	if err != nil {
		logger.Fatalf("price ingestion failed: %v", err)
	}
	logger.Infof("ingested prices for %d symbols (%d new rows, %d already present, %d symbols failed, %d rows rejected)",
		stats.Symbols, stats.Inserted, stats.Skipped, stats.Failed, stats.RowErrors)
}
