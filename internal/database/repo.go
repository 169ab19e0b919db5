package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrHoldingNotFound  = errors.New("holding not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrInsufficientCash = errors.New("insufficient cash balance")
)

const pqUniqueViolation = "23505"

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func (r *Repo) CreateUser(ctx context.Context, email, firstName, lastName string) (User, error) {
	u := User{
		ID:          uuid.NewString(),
		Email:       strings.ToLower(strings.TrimSpace(email)),
		FirstName:   firstName,
		LastName:    lastName,
		CashBalance: decimal.Zero,
	}
	q := `INSERT INTO users (id, email, first_name, last_name, cash_balance, created_at) VALUES ($1, $2, $3, $4, 0, now())`
	if _, err := r.db.ExecContext(ctx, q, u.ID, u.Email, u.FirstName, u.LastName); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	return u, nil
}

func (r *Repo) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT id, email, first_name, last_name, cash_balance FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (r *Repo) GetCashBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := r.db.GetContext(ctx, &bal, `SELECT cash_balance FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUserNotFound
	}
	return bal, err
}

// AdjustCashBalance applies a signed delta to the user's cash balance and
// returns the new balance. Deposits are positive, withdrawals negative.
func (r *Repo) AdjustCashBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var bal decimal.Decimal
	q := `UPDATE users SET cash_balance = cash_balance + $1::numeric WHERE id = $2 RETURNING cash_balance`
	err := r.db.QueryRowContext(ctx, q, delta.String(), userID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUserNotFound
	}
	return bal, err
}

func (r *Repo) GetHoldings(ctx context.Context, userID string) ([]Holding, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT symbol, name, shares, purchase_price FROM portfolio_stocks WHERE user_id = $1 ORDER BY symbol ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Holding{}
	for rows.Next() {
		var h Holding
		if err := rows.StructScan(&h); err != nil {
			r.log.Warnf("scan holding failed: %v", err)
			continue
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// BuyStock inserts (or tops up) a holding at the given live price and debits
// shares*price from the user's cash, all in one transaction.
func (r *Repo) BuyStock(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (Holding, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	cost := shares.Mul(price)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Holding{}, err
	}
	defer tx.Rollback()

	var bal decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT cash_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Holding{}, ErrUserNotFound
		}
		return Holding{}, err
	}
	if bal.LessThan(cost) {
		return Holding{}, ErrInsufficientCash
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET cash_balance = cash_balance - $1::numeric WHERE id = $2`, cost.String(), userID); err != nil {
		return Holding{}, err
	}

	upsert := `INSERT INTO portfolio_stocks (user_id, symbol, name, shares, purchase_price, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, now())
		ON CONFLICT (user_id, symbol) DO UPDATE SET shares = portfolio_stocks.shares + $4::numeric, purchase_price = $5::numeric`
	if _, err := tx.ExecContext(ctx, upsert, userID, symbol, name, shares.String(), price.String()); err != nil {
		return Holding{}, err
	}

	if err := tx.Commit(); err != nil {
		return Holding{}, err
	}
	return Holding{Symbol: symbol, Name: name, Shares: shares, PurchasePrice: price}, nil
}

// SellStock removes the entire holding and credits shares*price back to cash.
// Returns the proceeds.
func (r *Repo) SellStock(ctx context.Context, userID, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	var shares decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT shares FROM portfolio_stocks WHERE user_id = $1 AND symbol = $2 FOR UPDATE`, userID, symbol).Scan(&shares)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrHoldingNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_stocks WHERE user_id = $1 AND symbol = $2`, userID, symbol); err != nil {
		return decimal.Zero, err
	}

	proceeds := shares.Mul(price)
	if _, err := tx.ExecContext(ctx, `UPDATE users SET cash_balance = cash_balance + $1::numeric WHERE id = $2`, proceeds.String(), userID); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return proceeds, nil
}

// UpdateStock adjusts shares and purchase price on an existing holding.
// Adjusting shares to zero deletes the row; zero-share holdings never persist.
func (r *Repo) UpdateStock(ctx context.Context, userID, symbol string, shares, price decimal.Decimal) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if shares.IsZero() {
		res, err := r.db.ExecContext(ctx, `DELETE FROM portfolio_stocks WHERE user_id = $1 AND symbol = $2`, userID, symbol)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrHoldingNotFound
		}
		return nil
	}

	q := `UPDATE portfolio_stocks SET shares = $1::numeric, purchase_price = $2::numeric WHERE user_id = $3 AND symbol = $4`
	res, err := r.db.ExecContext(ctx, q, shares.String(), price.String(), userID, symbol)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrHoldingNotFound
	}
	return nil
}

// InsertDailyPrice stores one adjusted close for (symbol, date). A row that
// already exists is left untouched; the bool reports whether a new row was
// written.
func (r *Repo) InsertDailyPrice(ctx context.Context, symbol string, day time.Time, adjustedClose decimal.Decimal) (bool, error) {
	q := `INSERT INTO stock_daily_prices (symbol, date, adjusted_close) VALUES ($1, $2, $3::numeric)`
	if _, err := r.db.ExecContext(ctx, q, symbol, day.Format("2006-01-02"), adjustedClose.String()); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetLatestPriceOnOrBefore returns the most recent stored adjusted close with
// date <= day, walking back over weekends and holidays. The bool is false when
// no such row exists.
func (r *Repo) GetLatestPriceOnOrBefore(ctx context.Context, symbol string, day time.Time) (decimal.Decimal, bool, error) {
	var row DailyPrice
	q := `SELECT symbol, date, adjusted_close FROM stock_daily_prices WHERE symbol = $1 AND date <= $2 ORDER BY date DESC LIMIT 1`
	err := r.db.GetContext(ctx, &row, q, symbol, day.Format("2006-01-02"))
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return row.AdjustedClose, true, nil
}

// GetDistinctHeldSymbols lists every symbol currently held by any user.
func (r *Repo) GetDistinctHeldSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT DISTINCT symbol FROM portfolio_stocks ORDER BY symbol ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			r.log.Warnf("scan symbol failed: %v", err)
			continue
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
