package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pacifica-bot/pkg/exchange"
	"pacifica-bot/pkg/quant"
)

func (s *Server) status(c *gin.Context) {
	resp := gin.H{
		"symbols": s.Meta.Symbols,
		"dry_run": s.Meta.DryRun,
		"version": s.Meta.Version,
		"session": s.Session.State().String(),
		"pnl_usd": s.Session.AccumulatedPnL(),
		"ceiling": s.Limiter.Ceiling(),
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) positions(c *gin.Context) {
	out := make([]gin.H, 0, len(s.Meta.Symbols))
	for _, sym := range s.Meta.Symbols {
		pos, ok := s.State.Position(sym)
		if !ok {
			continue
		}
		out = append(out, gin.H{
			"symbol":       pos.Symbol,
			"side":         pos.Side,
			"qty":          pos.Qty,
			"entry_price":  pos.EntryPrice,
			"mark_price":   pos.MarkPrice,
			"pnl":          pos.UnrealizedPnL,
			"pnl_percent":  pos.PnLPercent(),
			"margin":       pos.Margin,
			"leverage":     pos.Leverage,
			"adopted":      pos.Adopted,
			"protected":    pos.Protected(),
			"time_in_loss": pos.TimeInLoss().String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) orders(c *gin.Context) {
	out := make(map[string][]exchange.OpenOrder, len(s.Meta.Symbols))
	for _, sym := range s.Meta.Symbols {
		out[sym] = s.State.Orders(sym)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) account(c *gin.Context) {
	acct, err := s.Gateway.GetAccountInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	exposure, err := s.Guard.Exposure(c.Request.Context(), s.Meta.Symbols)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"equity":              acct.Equity,
		"balance":             acct.Balance,
		"margin_used":         acct.MarginUsed,
		"margin_free_percent": acct.MarginFreePercent(),
		"exposure":            exposure,
	})
}

func (s *Server) riskEvents(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if s.DB == nil {
		c.JSON(http.StatusOK, gin.H{"events": []any{}})
		return
	}
	evs, err := s.DB.RecentRiskEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) setCeiling(c *gin.Context) {
	var body struct {
		CeilingUSD float64 `json:"ceiling_usd"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}
	if body.CeilingUSD < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ceiling must be >= 0"})
		return
	}
	s.Limiter.SetCeiling(body.CeilingUSD)
	c.JSON(http.StatusOK, gin.H{"ceiling": s.Limiter.Ceiling()})
}

func (s *Server) pauseSession(c *gin.Context) {
	s.Session.Pause(c.Request.Context(), "dashboard pause")
	c.JSON(http.StatusOK, gin.H{"session": s.Session.State().String()})
}

func (s *Server) resumeSession(c *gin.Context) {
	s.Session.Resume(c.Request.Context(), "dashboard resume")
	c.JSON(http.StatusOK, gin.H{"session": s.Session.State().String()})
}

// forceClose market-closes a symbol's position, holding the symbol's
// critical section so the trading loop cannot interleave.
func (s *Server) forceClose(c *gin.Context) {
	symbol := c.Param("symbol")
	found := false
	for _, sym := range s.Meta.Symbols {
		if sym == symbol {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}

	lock := s.State.Locker(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, ok := s.State.Position(symbol)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no open position"})
		return
	}
	qty := pos.Qty
	if info, err := s.Gateway.GetSymbolInfo(c.Request.Context(), symbol); err == nil {
		qty = quant.Quantity(pos.Qty, info.LotSize)
	}
	_, err := s.Exec.Place(c.Request.Context(), exchange.OrderRequest{
		Symbol:     symbol,
		Side:       pos.Side.Opposite(),
		Kind:       exchange.KindMarket,
		Qty:        qty,
		ReduceOnly: true,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	s.State.ClearPosition(symbol)
	c.JSON(http.StatusOK, gin.H{"closed": symbol, "qty": qty, "side": pos.Side.Opposite()})
}
