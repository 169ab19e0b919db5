// Package ingest pulls daily adjusted closes for every held symbol into the
// historical price cache.
package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"portview/internal/marketdata"
)

// SeriesSource is the daily-series side of the market data gateway.
type SeriesSource interface {
	GetDailyAdjusted(ctx context.Context, symbol, outputSize string) ([]marketdata.DailyBar, error)
}

// PriceStore persists daily closes with insert-or-skip semantics.
type PriceStore interface {
	GetDistinctHeldSymbols(ctx context.Context) ([]string, error)
	InsertDailyPrice(ctx context.Context, symbol string, day time.Time, adjustedClose decimal.Decimal) (bool, error)
}

// Stats summarizes one ingestion run. Failed counts symbols whose series
// fetch failed; RowErrors counts individual rows the store rejected.
type Stats struct {
	Symbols   int
	Inserted  int
	Skipped   int
	Failed    int
	RowErrors int
}

type Ingestor struct {
	source SeriesSource
	store  PriceStore
	log    *logrus.Logger
}

func New(source SeriesSource, store PriceStore, log *logrus.Logger) *Ingestor {
	return &Ingestor{source: source, store: store, log: log}
}

// Run fetches the recent daily-adjusted series for each distinct held symbol
// and stores every (date, close) pair not already present. Per-symbol gateway
// failures are logged and skipped; the batch continues. Rows that already
// exist count as skips, which makes overlapping or repeated runs harmless.
func (i *Ingestor) Run(ctx context.Context) (Stats, error) {
	symbols, err := i.store.GetDistinctHeldSymbols(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Symbols: len(symbols)}
	for _, symbol := range symbols {
		bars, err := i.source.GetDailyAdjusted(ctx, symbol, marketdata.OutputSizeCompact)
		if err != nil {
			i.log.Warnf("daily series fetch failed for %s, skipping: %v", symbol, err)
			stats.Failed++
			continue
		}
		for _, bar := range bars {
			inserted, err := i.store.InsertDailyPrice(ctx, symbol, bar.Date, bar.AdjustedClose)
			if err != nil {
				i.log.Warnf("store daily price %s %s failed: %v", symbol, bar.Date.Format("2006-01-02"), err)
				stats.RowErrors++
				continue
			}
			if inserted {
				stats.Inserted++
			} else {
				stats.Skipped++
			}
		}
	}
	i.log.Infof("price ingestion done: %d symbols, %d inserted, %d already present, %d symbols failed, %d rows rejected",
		stats.Symbols, stats.Inserted, stats.Skipped, stats.Failed, stats.RowErrors)
	return stats, nil
}

// Start runs the ingestion on a ticker until ctx is cancelled.
func (i *Ingestor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				i.log.Info("price ingestor stopping")
				return
			case <-ticker.C:
				if _, err := i.Run(ctx); err != nil {
					i.log.Warnf("scheduled price ingestion failed: %v", err)
				}
			}
		}
	}()
}
