// Package valuation computes portfolio value and day-over-day change from a
// user's holdings, cash balance, and live + historical price lookups.
package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"portview/internal/database"
	"portview/internal/marketdata"
)

// MarketData is the live-quote side of the market data gateway.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (marketdata.Quote, error)
	GetCompanyName(ctx context.Context, symbol string) (string, error)
}

// PriceHistory is the stored daily-close lookup. The bool is false when no
// price exists on or before the given day.
type PriceHistory interface {
	GetLatestPriceOnOrBefore(ctx context.Context, symbol string, day time.Time) (decimal.Decimal, bool, error)
}

// Summary is the derived portfolio summary. Never persisted, computed fresh
// per request. All fields are rounded to 2 decimal places.
type Summary struct {
	CurrentTotalValue float64 `json:"current_total_value"`
	DaysChangeValue   float64 `json:"days_change_value"`
	DaysChangePercent float64 `json:"days_change_percent"`
}

// ListedHolding is one row of the enriched portfolio listing. Price, change,
// percent change, and value are nil when the live quote could not be fetched;
// Error then carries the reason.
type ListedHolding struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	Shares        float64  `json:"shares"`
	Price         *float64 `json:"price"`
	Change        *float64 `json:"change"`
	PercentChange *float64 `json:"percent_change"`
	Value         *float64 `json:"value"`
	Error         string   `json:"error,omitempty"`
}

// QuoteResult is the outcome of one live-quote fetch: either Quote or Err is
// meaningful, never both.
type QuoteResult struct {
	Symbol string
	Quote  marketdata.Quote
	Err    error
}

type Engine struct {
	market  MarketData
	history PriceHistory
	log     *logrus.Logger
}

func New(market MarketData, history PriceHistory, log *logrus.Logger) *Engine {
	return &Engine{market: market, history: history, log: log}
}

func (e *Engine) fetchQuote(ctx context.Context, symbol string) QuoteResult {
	q, err := e.market.GetQuote(ctx, symbol)
	if err != nil {
		return QuoteResult{Symbol: symbol, Err: err}
	}
	return QuoteResult{Symbol: symbol, Quote: q}
}

// Summarize computes the portfolio summary as of referenceDate. Holdings are
// valued independently: a failed live quote drops that holding from the
// current value, a missing historical close drops it from the day's-change
// baseline, and neither fails the summary. Cash is counted on both sides of
// the comparison.
func (e *Engine) Summarize(ctx context.Context, holdings []database.Holding, cash decimal.Decimal, referenceDate time.Time) Summary {
	targetYesterday := referenceDate.AddDate(0, 0, -1)

	currentStock := decimal.Zero
	yesterdayStock := decimal.Zero
	for _, h := range holdings {
		res := e.fetchQuote(ctx, h.Symbol)
		if res.Err != nil {
			e.log.Warnf("live quote unavailable for %s, omitting from current value: %v", h.Symbol, res.Err)
		} else {
			currentStock = currentStock.Add(h.Shares.Mul(res.Quote.Price))
		}

		closePrice, found, err := e.history.GetLatestPriceOnOrBefore(ctx, h.Symbol, targetYesterday)
		switch {
		case err != nil:
			e.log.Warnf("historical lookup failed for %s: %v", h.Symbol, err)
		case !found:
			e.log.Warnf("no stored close for %s on or before %s, omitting from day's change baseline", h.Symbol, targetYesterday.Format("2006-01-02"))
		default:
			yesterdayStock = yesterdayStock.Add(h.Shares.Mul(closePrice))
		}
	}

	// No historical cash ledger exists; cash is assumed unchanged day-over-day.
	currentTotal := currentStock.Add(cash)
	yesterdayTotal := yesterdayStock.Add(cash)
	change := currentTotal.Sub(yesterdayTotal)

	percent := decimal.Zero
	if yesterdayTotal.GreaterThan(decimal.Zero) {
		percent = change.Div(yesterdayTotal).Mul(decimal.NewFromInt(100))
	}

	return Summary{
		CurrentTotalValue: round2(currentTotal),
		DaysChangeValue:   round2(change),
		DaysChangePercent: round2(percent),
	}
}

// EnrichHoldings builds the live listing: exactly one entry per input holding,
// order preserved. A failed quote yields nil market fields plus an error note
// instead of failing the listing.
func (e *Engine) EnrichHoldings(ctx context.Context, holdings []database.Holding) []ListedHolding {
	out := make([]ListedHolding, 0, len(holdings))
	for _, h := range holdings {
		entry := ListedHolding{
			Symbol: h.Symbol,
			Name:   h.Name,
			Shares: h.Shares.InexactFloat64(),
		}
		if entry.Name == "" {
			entry.Name = h.Symbol
		}

		res := e.fetchQuote(ctx, h.Symbol)
		if res.Err != nil {
			e.log.Warnf("enrichment failed for %s: %v", h.Symbol, res.Err)
			entry.Error = res.Err.Error()
			out = append(out, entry)
			continue
		}

		if name, err := e.market.GetCompanyName(ctx, h.Symbol); err == nil && name != "" {
			entry.Name = name
		}

		entry.Price = f64(res.Quote.Price)
		entry.Change = f64(res.Quote.Change)
		entry.PercentChange = f64(res.Quote.PercentChange)
		entry.Value = f64(h.Shares.Mul(res.Quote.Price))
		out = append(out, entry)
	}
	return out
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func f64(d decimal.Decimal) *float64 {
	v := d.Round(2).InexactFloat64()
	return &v
}
