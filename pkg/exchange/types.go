package exchange

import "context"

// Side is Pacifica's canonical side encoding. "bid" establishes or extends a
// long, "ask" establishes or extends a short. Position direction is always
// derived from these values, never from the sign of a quantity.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// OrderKind denotes the order types the bot submits.
type OrderKind string

const (
	KindLimit      OrderKind = "limit"
	KindMarket     OrderKind = "market"
	KindTakeProfit OrderKind = "take_profit"
	KindStopLoss   OrderKind = "stop_loss"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFALO TimeInForce = "ALO" // add-liquidity-only (post only)
)

// OrderRequest captures an order intent to be sent to the exchange.
// TakeProfit/StopLoss, when set, ask the exchange to create the protective
// pair atomically with the parent order.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Kind        OrderKind
	Qty         float64
	Price       float64 // required for limit
	StopPrice   float64 // trigger price for take_profit / stop_loss kinds
	TimeInForce TimeInForce
	ReduceOnly  bool
	ClientID    string
	TakeProfit  float64
	StopLoss    float64
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	OrderID           string
	ClientID          string
	TakeProfitOrderID string
	StopLossOrderID   string
}

// Position is the authoritative exchange view of an open position.
type Position struct {
	Symbol            string
	Side              Side // bid = long, ask = short
	Qty               float64
	EntryPrice        float64
	MarkPrice         float64
	UnrealizedPnL     float64
	Margin            float64
	Leverage          float64
	TakeProfitOrderID string
	StopLossOrderID   string
}

// Notional is |qty| * mark price.
func (p Position) Notional() float64 {
	q := p.Qty
	if q < 0 {
		q = -q
	}
	return q * p.MarkPrice
}

// OpenOrder is the authoritative exchange view of a resting order.
type OpenOrder struct {
	OrderID    string
	ClientID   string
	Symbol     string
	Side       Side
	Price      float64
	Qty        float64
	Kind       OrderKind
	ReduceOnly bool
}

// AccountState summarizes margin usage. The wire payload may arrive as a
// single object or a one-element array; the client normalizes both shapes
// before anything downstream sees them.
type AccountState struct {
	Equity        float64
	Balance       float64
	MarginUsed    float64
	TotalNotional float64
}

// MarginFreePercent is the share of equity not committed as margin, 0-100.
func (a AccountState) MarginFreePercent() float64 {
	if a.Equity <= 0 {
		return 0
	}
	return (a.Equity - a.MarginUsed) / a.Equity * 100
}

// SymbolInfo holds per-symbol trading granularity.
type SymbolInfo struct {
	Symbol   string
	TickSize float64
	LotSize  float64
}

// Gateway abstracts the Pacifica REST surface consumed by the bot.
type Gateway interface {
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetAccountInfo(ctx context.Context) (AccountState, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
