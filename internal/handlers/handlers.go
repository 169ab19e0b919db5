package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"portview/internal/database"
	"portview/internal/valuation"
)

// Store is the slice of the repository the handlers need.
type Store interface {
	CreateUser(ctx context.Context, email, firstName, lastName string) (database.User, error)
	GetUser(ctx context.Context, userID string) (database.User, error)
	GetHoldings(ctx context.Context, userID string) ([]database.Holding, error)
	GetCashBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	AdjustCashBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	BuyStock(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (database.Holding, error)
	SellStock(ctx context.Context, userID, symbol string, price decimal.Decimal) (decimal.Decimal, error)
	UpdateStock(ctx context.Context, userID, symbol string, shares, price decimal.Decimal) error
}

type Handler struct {
	store  Store
	market valuation.MarketData
	engine *valuation.Engine
	log    *logrus.Logger
}

func NewHandler(store Store, market valuation.MarketData, engine *valuation.Engine, log *logrus.Logger) *Handler {
	return &Handler{store: store, market: market, engine: engine, log: log}
}

type RegisterRequest struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid register body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.store.CreateUser(c.Request.Context(), req.Email, req.FirstName, req.LastName)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.log.Errorf("create user failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.store.GetUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Errorf("get user failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// GetStockQuote serves a live quote for one symbol, independent of any
// portfolio. Used by symbol pickers to validate before buying.
func (h *Handler) GetStockQuote(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	quote, err := h.market.GetQuote(c.Request.Context(), symbol)
	if err != nil {
		h.log.Warnf("quote fetch failed for %s: %v", symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":         symbol,
		"price":          quote.Price.Round(2).InexactFloat64(),
		"change":         quote.Change.Round(2).InexactFloat64(),
		"percent_change": quote.PercentChange.Round(2).InexactFloat64(),
	})
}

// GetSummary serves the portfolio summary as of the reference date
// (?date=YYYY-MM-DD, default today). Market-data failures degrade the
// numbers, they never fail the request; only store failures do.
func (h *Handler) GetSummary(c *gin.Context) {
	userID := c.Param("userId")
	ctx := c.Request.Context()

	referenceDate := time.Now().UTC().Truncate(24 * time.Hour)
	if v := c.Query("date"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		referenceDate = d
	}

	holdings, err := h.store.GetHoldings(ctx, userID)
	if err != nil {
		h.log.Errorf("get holdings failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	cash, err := h.store.GetCashBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Errorf("get cash balance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, h.engine.Summarize(ctx, holdings, cash, referenceDate))
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	userID := c.Param("userId")
	holdings, err := h.store.GetHoldings(c.Request.Context(), userID)
	if err != nil {
		h.log.Errorf("get holdings failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, h.engine.EnrichHoldings(c.Request.Context(), holdings))
}

type BuyRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Name   string `json:"name"`
	Shares string `json:"shares" binding:"required"`
}

func (h *Handler) BuyStock(c *gin.Context) {
	userID := c.Param("userId")
	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid buy body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	shares, err := decimal.NewFromString(req.Shares)
	if err != nil || !shares.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shares must be a positive number"})
		return
	}

	ctx := c.Request.Context()
	quote, err := h.market.GetQuote(ctx, req.Symbol)
	if err != nil {
		h.log.Warnf("live price fetch failed for %s: %v", req.Symbol, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not fetch a live price for " + req.Symbol})
		return
	}

	holding, err := h.store.BuyStock(ctx, userID, req.Symbol, req.Name, shares, quote.Price)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, database.ErrInsufficientCash):
			c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient cash balance"})
		default:
			h.log.Errorf("buy stock failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "buy failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, holding)
}

func (h *Handler) SellStock(c *gin.Context) {
	userID := c.Param("userId")
	symbol := c.Param("symbol")

	ctx := c.Request.Context()
	quote, err := h.market.GetQuote(ctx, symbol)
	if err != nil {
		h.log.Warnf("live price fetch failed for %s: %v", symbol, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not fetch a live price for " + symbol})
		return
	}

	proceeds, err := h.store.SellStock(ctx, userID, symbol, quote.Price)
	if err != nil {
		if errors.Is(err, database.ErrHoldingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stock not found in portfolio"})
			return
		}
		h.log.Errorf("sell stock failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sell failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proceeds": proceeds.Round(2).InexactFloat64()})
}

type UpdateStockRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Shares string `json:"shares" binding:"required"`
	Price  string `json:"price" binding:"required"`
}

func (h *Handler) UpdateStock(c *gin.Context) {
	userID := c.Param("userId")
	var req UpdateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid update body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	shares, err := decimal.NewFromString(req.Shares)
	if err != nil || shares.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shares must be a non-negative number"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a non-negative number"})
		return
	}

	if err := h.store.UpdateStock(c.Request.Context(), userID, req.Symbol, shares, price); err != nil {
		if errors.Is(err, database.ErrHoldingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stock not found in portfolio"})
			return
		}
		h.log.Errorf("update stock failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) GetCash(c *gin.Context) {
	userID := c.Param("userId")
	bal, err := h.store.GetCashBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Errorf("get cash balance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash_balance": bal.Round(2).InexactFloat64()})
}

type CashRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// UpdateCash applies a signed cash delta (deposit or withdrawal).
func (h *Handler) UpdateCash(c *gin.Context) {
	userID := c.Param("userId")
	var req CashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid cash body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	delta, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount format"})
		return
	}

	bal, err := h.store.AdjustCashBalance(c.Request.Context(), userID, delta)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Errorf("adjust cash balance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash_balance": bal.Round(2).InexactFloat64()})
}
