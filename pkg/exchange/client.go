package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// SignFunc produces auth headers for a request. Signing itself is a black
// box owned by the caller; the client only attaches whatever comes back.
type SignFunc func(method, path string, body []byte) (http.Header, error)

// Config holds Pacifica client settings.
type Config struct {
	BaseURL string
	Account string
	Signer  SignFunc

	// MinInterval is the global minimum spacing between any two calls,
	// shared across all symbols. Zero disables pacing.
	MinInterval time.Duration

	SymbolInfoTTL time.Duration
	Retry         RetryPolicy

	// Circuit breaker settings.
	FailureThreshold int
	Cooldown         time.Duration
}

// Client talks to the Pacifica REST API with bounded differentiated retry,
// a shared inter-call pacer, and a consecutive-failure circuit breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	pacer      *rate.Limiter
	breaker    *CircuitBreaker
	retry      RetryPolicy
	symbols    *symbolInfoCache
}

// NewClient creates a Pacifica REST client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.pacifica.fi/api/v1"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	var pacer *rate.Limiter
	if cfg.MinInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pacer:      pacer,
		breaker:    NewCircuitBreaker(cfg.FailureThreshold, cfg.Cooldown),
		retry:      cfg.Retry,
		symbols:    newSymbolInfoCache(cfg.SymbolInfoTTL),
	}
}

// envelope is Pacifica's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// GetPositions returns open positions. Pacifica may return positions for
// every symbol the account trades; when symbol is non-empty the result is
// filtered here so other bots on the same account never leak in.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	body, err := c.call(ctx, http.MethodGet, "/positions?account="+c.cfg.Account, nil)
	if err != nil {
		return nil, err
	}
	var raw []wirePosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		pos, err := p.toPosition()
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetOpenOrders returns resting orders, filtered to symbol when non-empty.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	body, err := c.call(ctx, http.MethodGet, "/orders?account="+c.cfg.Account, nil)
	if err != nil {
		return nil, err
	}
	var raw []wireOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o.toOrder())
	}
	return out, nil
}

// GetAccountInfo returns margin state. The data field legally arrives as a
// single object or a one-element array; both shapes are normalized here so
// the ambiguity never propagates.
func (c *Client) GetAccountInfo(ctx context.Context) (AccountState, error) {
	body, err := c.call(ctx, http.MethodGet, "/account?account="+c.cfg.Account, nil)
	if err != nil {
		return AccountState{}, err
	}
	return normalizeAccount(body)
}

// GetSymbolInfo returns tick/lot sizes, served from the TTL cache when fresh.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	if info, ok := c.symbols.get(symbol); ok {
		return info, nil
	}
	body, err := c.call(ctx, http.MethodGet, "/info?symbol="+symbol, nil)
	if err != nil {
		return SymbolInfo{}, err
	}
	var raw struct {
		Symbol   string `json:"symbol"`
		TickSize string `json:"tick_size"`
		LotSize  string `json:"lot_size"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return SymbolInfo{}, fmt.Errorf("decode symbol info: %w", err)
	}
	tick, err := strconv.ParseFloat(raw.TickSize, 64)
	if err != nil {
		return SymbolInfo{}, fmt.Errorf("parse tick size %q: %w", raw.TickSize, err)
	}
	lot, err := strconv.ParseFloat(raw.LotSize, 64)
	if err != nil {
		return SymbolInfo{}, fmt.Errorf("parse lot size %q: %w", raw.LotSize, err)
	}
	if lot < 0 {
		return SymbolInfo{}, fmt.Errorf("symbol %s: negative lot size %v", symbol, lot)
	}
	info := SymbolInfo{Symbol: symbol, TickSize: tick, LotSize: lot}
	c.symbols.put(info)
	return info, nil
}

// GetMarkPrice returns the current mark price for a symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.call(ctx, http.MethodGet, "/info/prices?symbol="+symbol, nil)
	if err != nil {
		return 0, err
	}
	var raw struct {
		Mark string `json:"mark"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("decode mark price: %w", err)
	}
	price, err := strconv.ParseFloat(raw.Mark, 64)
	if err != nil {
		return 0, fmt.Errorf("parse mark price %q: %w", raw.Mark, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("symbol %s: invalid mark price %v", symbol, price)
	}
	return price, nil
}

// CreateOrder submits an order. Size must be positive; reduce-only orders
// and TP/SL sub-orders are validated exchange-side, so rejections come back
// as ClassValidation errors the caller must react to, not retry.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Qty <= 0 {
		return OrderResult{}, &APIError{
			Class:    ClassValidation,
			Endpoint: "/orders/create",
			Message:  fmt.Sprintf("non-positive size %v", req.Qty),
		}
	}
	payload := map[string]any{
		"account":     c.cfg.Account,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"order_type":  string(req.Kind),
		"amount":      formatFloat(req.Qty),
		"reduce_only": req.ReduceOnly,
	}
	if req.Kind == KindLimit {
		payload["price"] = formatFloat(req.Price)
		tif := req.TimeInForce
		if tif == "" {
			tif = TIFGTC
		}
		payload["tif"] = string(tif)
	}
	if req.Kind == KindTakeProfit || req.Kind == KindStopLoss {
		payload["stop_price"] = formatFloat(req.StopPrice)
	}
	if req.ClientID != "" {
		payload["client_order_id"] = req.ClientID
	}
	if req.TakeProfit > 0 {
		payload["take_profit"] = map[string]any{"stop_price": formatFloat(req.TakeProfit)}
	}
	if req.StopLoss > 0 {
		payload["stop_loss"] = map[string]any{"stop_price": formatFloat(req.StopLoss)}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return OrderResult{}, err
	}
	body, err := c.call(ctx, http.MethodPost, "/orders/create", b)
	if err != nil {
		return OrderResult{}, err
	}
	var raw struct {
		OrderID           int64  `json:"order_id"`
		ClientOrderID     string `json:"client_order_id"`
		TakeProfitOrderID int64  `json:"take_profit_order_id"`
		StopLossOrderID   int64  `json:"stop_loss_order_id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderResult{}, fmt.Errorf("decode order ack: %w", err)
	}
	res := OrderResult{
		OrderID:  strconv.FormatInt(raw.OrderID, 10),
		ClientID: raw.ClientOrderID,
	}
	if raw.TakeProfitOrderID != 0 {
		res.TakeProfitOrderID = strconv.FormatInt(raw.TakeProfitOrderID, 10)
	}
	if raw.StopLossOrderID != 0 {
		res.StopLossOrderID = strconv.FormatInt(raw.StopLossOrderID, 10)
	}
	return res, nil
}

// CancelOrder cancels a resting order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &APIError{Class: ClassValidation, Endpoint: "/orders/cancel", Message: "bad order id " + orderID}
	}
	payload := map[string]any{
		"account":  c.cfg.Account,
		"symbol":   symbol,
		"order_id": id,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, http.MethodPost, "/orders/cancel", b)
	return err
}

// call runs one API call under pacing, circuit breaking, and the retry policy.
func (c *Client) call(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.retry.do(ctx, func() error {
		if !c.breaker.Allow() {
			return ErrCircuitOpen
		}
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return err
			}
		}
		data, err := c.doOnce(ctx, method, path, body)
		if err != nil {
			var ae *APIError
			// Validation failures are the caller's problem, not the remote's
			// health: they do not feed the breaker.
			if !errors.As(err, &ae) || ae.Class != ClassValidation {
				c.breaker.Failure()
			}
			return err
		}
		c.breaker.Success()
		out = data
		return nil
	})
	return out, err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Signer != nil {
		hdr, err := c.cfg.Signer(method, path, body)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, vs := range hdr {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, &APIError{
			Class:      classify(res.StatusCode),
			StatusCode: res.StatusCode,
			Endpoint:   path,
			Message:    string(raw),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Malformed-but-2xx payload: transient, retried upstream.
		return nil, &APIError{
			Class:      ClassServerError,
			StatusCode: res.StatusCode,
			Endpoint:   path,
			Message:    "malformed response body",
		}
	}
	if !env.Success {
		return nil, &APIError{
			Class:      ClassValidation,
			StatusCode: res.StatusCode,
			Endpoint:   path,
			Message:    env.Error,
		}
	}
	return env.Data, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
