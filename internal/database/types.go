package database

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID          string          `db:"id" json:"id"`
	Email       string          `db:"email" json:"email"`
	FirstName   string          `db:"first_name" json:"first_name"`
	LastName    string          `db:"last_name" json:"last_name"`
	CashBalance decimal.Decimal `db:"cash_balance" json:"cash_balance"`
}

type Holding struct {
	Symbol        string          `db:"symbol" json:"symbol"`
	Name          string          `db:"name" json:"name"`
	Shares        decimal.Decimal `db:"shares" json:"shares"`
	PurchasePrice decimal.Decimal `db:"purchase_price" json:"purchase_price"`
}

type DailyPrice struct {
	Symbol        string          `db:"symbol" json:"symbol"`
	Date          time.Time       `db:"date" json:"date"`
	AdjustedClose decimal.Decimal `db:"adjusted_close" json:"adjusted_close"`
}
