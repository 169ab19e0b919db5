package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func setupDB(t *testing.T) *sqlx.DB {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL is not set; skipping integration tests")
	}
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	files := []string{"../../migrations/0001_init.up.sql"}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read migration %s: %v", f, err)
		}
		if _, err := db.Exec(string(b)); err != nil {
			t.Logf("exec migration %s: %v", f, err)
		}
	}
	return db
}

func createTestUser(t *testing.T, r *Repo) User {
	t.Helper()
	email := fmt.Sprintf("it-%d@example.com", time.Now().UnixNano())
	u, err := r.CreateUser(context.Background(), email, "Test", "User")
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	return u
}

func TestInsertDailyPrice_InsertOrSkip(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())

	symbol := fmt.Sprintf("ITEST%d", time.Now().UnixNano()%1000000)
	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	t.Cleanup(func() { db.Exec(`DELETE FROM stock_daily_prices WHERE symbol = $1`, symbol) })

	inserted, err := r.InsertDailyPrice(context.Background(), symbol, day, decimal.RequireFromString("145.00"))
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if !inserted {
		t.Fatalf("expected inserted true on first write")
	}

	inserted, err = r.InsertDailyPrice(context.Background(), symbol, day, decimal.RequireFromString("145.00"))
	if err != nil {
		t.Fatalf("second insert failed: %v", err)
	}
	if inserted {
		t.Fatalf("expected inserted false on duplicate write")
	}

	var n int
	if err := db.Get(&n, `SELECT count(*) FROM stock_daily_prices WHERE symbol = $1`, symbol); err != nil {
		t.Fatalf("count rows failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 row, got %d", n)
	}
}

func TestGetLatestPriceOnOrBefore_WeekendFallback(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())

	symbol := fmt.Sprintf("WTEST%d", time.Now().UnixNano()%1000000)
	t.Cleanup(func() { db.Exec(`DELETE FROM stock_daily_prices WHERE symbol = $1`, symbol) })

	friday := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	if _, err := r.InsertDailyPrice(context.Background(), symbol, friday, decimal.RequireFromString("143.20")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	price, found, err := r.GetLatestPriceOnOrBefore(context.Background(), symbol, saturday)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found {
		t.Fatalf("expected Friday's close for a Saturday target")
	}
	if !price.Equal(decimal.RequireFromString("143.20")) {
		t.Fatalf("expected 143.20, got %s", price)
	}

	_, found, err = r.GetLatestPriceOnOrBefore(context.Background(), symbol, friday.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found {
		t.Fatalf("expected no price before the first stored day")
	}
}

func TestBuyAndSellStock_CashLinked(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()

	u := createTestUser(t, r)
	if _, err := r.AdjustCashBalance(ctx, u.ID, decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("fund account failed: %v", err)
	}

	if _, err := r.BuyStock(ctx, u.ID, "AAPL", "Apple", decimal.RequireFromString("2"), decimal.RequireFromString("100")); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	bal, err := r.GetCashBalance(ctx, u.ID)
	if err != nil {
		t.Fatalf("get cash failed: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("800")) {
		t.Fatalf("expected cash 800 after buy, got %s", bal)
	}

	holdings, err := r.GetHoldings(ctx, u.ID)
	if err != nil {
		t.Fatalf("get holdings failed: %v", err)
	}
	if len(holdings) != 1 || !holdings[0].Shares.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("expected one holding of 2 shares, got %v", holdings)
	}

	proceeds, err := r.SellStock(ctx, u.ID, "AAPL", decimal.RequireFromString("110"))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if !proceeds.Equal(decimal.RequireFromString("220")) {
		t.Fatalf("expected proceeds 220, got %s", proceeds)
	}

	bal, err = r.GetCashBalance(ctx, u.ID)
	if err != nil {
		t.Fatalf("get cash failed: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("1020")) {
		t.Fatalf("expected cash 1020 after sell, got %s", bal)
	}

	holdings, err = r.GetHoldings(ctx, u.ID)
	if err != nil {
		t.Fatalf("get holdings failed: %v", err)
	}
	if len(holdings) != 0 {
		t.Fatalf("expected holding deleted on full sell, got %v", holdings)
	}
}

func TestBuyStock_InsufficientCash(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()

	u := createTestUser(t, r)

	_, err := r.BuyStock(ctx, u.ID, "AAPL", "Apple", decimal.RequireFromString("1"), decimal.RequireFromString("100"))
	if err != ErrInsufficientCash {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}

	bal, err := r.GetCashBalance(ctx, u.ID)
	if err != nil {
		t.Fatalf("get cash failed: %v", err)
	}
	if !bal.IsZero() {
		t.Fatalf("expected cash untouched after rejected buy, got %s", bal)
	}
}

func TestUpdateStock_ZeroSharesDeletes(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()

	u := createTestUser(t, r)
	if _, err := r.AdjustCashBalance(ctx, u.ID, decimal.RequireFromString("500")); err != nil {
		t.Fatalf("fund account failed: %v", err)
	}
	if _, err := r.BuyStock(ctx, u.ID, "MSFT", "Microsoft", decimal.RequireFromString("1"), decimal.RequireFromString("400")); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if err := r.UpdateStock(ctx, u.ID, "MSFT", decimal.Zero, decimal.Zero); err != nil {
		t.Fatalf("update to zero failed: %v", err)
	}

	holdings, err := r.GetHoldings(ctx, u.ID)
	if err != nil {
		t.Fatalf("get holdings failed: %v", err)
	}
	if len(holdings) != 0 {
		t.Fatalf("expected zero-share holding deleted, got %v", holdings)
	}

	if err := r.UpdateStock(ctx, u.ID, "MSFT", decimal.RequireFromString("1"), decimal.RequireFromString("10")); err != ErrHoldingNotFound {
		t.Fatalf("expected ErrHoldingNotFound, got %v", err)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()

	email := fmt.Sprintf("dup-%d@example.com", time.Now().UnixNano())
	if _, err := r.CreateUser(ctx, email, "First", "User"); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if _, err := r.CreateUser(ctx, email, "Second", "User"); err != ErrDuplicateEmail {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}
