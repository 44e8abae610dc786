package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Pacifica serializes numbers as strings on the wire.

type wirePosition struct {
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	Amount            string `json:"amount"`
	EntryPrice        string `json:"entry_price"`
	MarkPrice         string `json:"mark_price"`
	UnrealizedPnL     string `json:"unrealized_pnl"`
	Margin            string `json:"margin"`
	Leverage          string `json:"leverage"`
	TakeProfitOrderID int64  `json:"take_profit_order_id"`
	StopLossOrderID   int64  `json:"stop_loss_order_id"`
}

func (w wirePosition) toPosition() (Position, error) {
	qty, err := parseF(w.Amount, "amount")
	if err != nil {
		return Position{}, err
	}
	entry, err := parseF(w.EntryPrice, "entry_price")
	if err != nil {
		return Position{}, err
	}
	mark, _ := parseF(w.MarkPrice, "mark_price")
	pnl, _ := parseF(w.UnrealizedPnL, "unrealized_pnl")
	margin, _ := parseF(w.Margin, "margin")
	lev, _ := parseF(w.Leverage, "leverage")

	if qty < 0 {
		qty = -qty
	}
	p := Position{
		Symbol:        w.Symbol,
		Side:          Side(w.Side),
		Qty:           qty,
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnL: pnl,
		Margin:        margin,
		Leverage:      lev,
	}
	if w.TakeProfitOrderID != 0 {
		p.TakeProfitOrderID = strconv.FormatInt(w.TakeProfitOrderID, 10)
	}
	if w.StopLossOrderID != 0 {
		p.StopLossOrderID = strconv.FormatInt(w.StopLossOrderID, 10)
	}
	return p, nil
}

type wireOrder struct {
	OrderID       int64  `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Amount        string `json:"amount"`
	OrderType     string `json:"order_type"`
	ReduceOnly    bool   `json:"reduce_only"`
}

func (w wireOrder) toOrder() OpenOrder {
	price, _ := strconv.ParseFloat(w.Price, 64)
	qty, _ := strconv.ParseFloat(w.Amount, 64)
	return OpenOrder{
		OrderID:    strconv.FormatInt(w.OrderID, 10),
		ClientID:   w.ClientOrderID,
		Symbol:     w.Symbol,
		Side:       Side(w.Side),
		Price:      price,
		Qty:        qty,
		Kind:       OrderKind(w.OrderType),
		ReduceOnly: w.ReduceOnly,
	}
}

type wireAccount struct {
	AccountEquity string `json:"account_equity"`
	Balance       string `json:"balance"`
	TotalMargin   string `json:"total_margin_used"`
	TotalNotional string `json:"total_notional"`
}

// normalizeAccount accepts the account payload as either a single object or
// a one-element array and returns one canonical AccountState.
func normalizeAccount(data json.RawMessage) (AccountState, error) {
	var w wireAccount
	if err := json.Unmarshal(data, &w); err != nil {
		var arr []wireAccount
		if err2 := json.Unmarshal(data, &arr); err2 != nil {
			return AccountState{}, fmt.Errorf("decode account payload: %w", err)
		}
		if len(arr) == 0 {
			return AccountState{}, fmt.Errorf("decode account payload: empty array")
		}
		w = arr[0]
	}
	equity, err := parseF(w.AccountEquity, "account_equity")
	if err != nil {
		return AccountState{}, err
	}
	balance, _ := parseF(w.Balance, "balance")
	margin, _ := parseF(w.TotalMargin, "total_margin_used")
	notional, _ := parseF(w.TotalNotional, "total_notional")
	return AccountState{
		Equity:        equity,
		Balance:       balance,
		MarginUsed:    margin,
		TotalNotional: notional,
	}, nil
}

func parseF(s, field string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return f, nil
}
