package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/venuelink/errs"
)

// Side is the direction of an order or position.
type Side string

const (
	// SideBuy opens or increases a long exposure.
	SideBuy Side = "buy"
	// SideSell opens or increases a short exposure.
	SideSell Side = "sell"
)

// OrderRequest is an order submission.
type OrderRequest struct {
	ClientOrderID string           `json:"client_order_id,omitempty"`
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"type"`
	Volume        decimal.Decimal  `json:"volume"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	StopLoss      *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal `json:"take_profit,omitempty"`
	Comment       string           `json:"comment,omitempty"`
}

// Validate checks the request before it reaches the wire.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return errs.New("order", errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	switch r.Side {
	case SideBuy, SideSell:
	default:
		return errs.New("order", errs.CodeInvalid, errs.WithMessage("side must be buy or sell"))
	}
	if !r.Volume.IsPositive() {
		return errs.New("order", errs.CodeInvalid, errs.WithMessage("volume must be > 0"))
	}
	if r.Price != nil && !r.Price.IsPositive() {
		return errs.New("order", errs.CodeInvalid, errs.WithMessage("price must be > 0 when set"))
	}
	return nil
}

// OrderResult is the venue's answer to a submission or close.
type OrderResult struct {
	OrderID       int64  `json:"order_id"`
	RetCode       int    `json:"retcode"`
	Comment       string `json:"comment,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Order is a pending order resting at the venue.
type Order struct {
	Ticket     int64           `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"type"`
	Volume     decimal.Decimal `json:"volume"`
	Price      decimal.Decimal `json:"price_open"`
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
	Comment    string          `json:"comment,omitempty"`
}

// Position is an open position.
type Position struct {
	Ticket       int64           `json:"ticket"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"type"`
	Volume       decimal.Decimal `json:"volume"`
	OpenPrice    decimal.Decimal `json:"price_open"`
	CurrentPrice decimal.Decimal `json:"price_current"`
	Profit       decimal.Decimal `json:"profit"`
}

// Account is a trading account snapshot.
type Account struct {
	Login      int64           `json:"login"`
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"margin_free"`
	Currency   string          `json:"currency"`
	Leverage   int             `json:"leverage"`
}

// MarketData is a top-of-book quote.
type MarketData struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Spread    decimal.Decimal `json:"spread"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// Time converts the millisecond timestamp.
func (m MarketData) Time() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// Status is the venue bridge's health summary.
type Status struct {
	Status    string `json:"status"`
	Connected bool   `json:"mt5_connected"`
	Account   *int64 `json:"account"`
	Timestamp string `json:"timestamp"`
}
