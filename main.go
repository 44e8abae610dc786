package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"pacifica-bot/internal/api"
	"pacifica-bot/internal/events"
	"pacifica-bot/internal/monitor"
	"pacifica-bot/internal/notify"
	"pacifica-bot/internal/order"
	"pacifica-bot/internal/risk"
	"pacifica-bot/internal/state"
	"pacifica-bot/internal/strategy"
	"pacifica-bot/pkg/config"
	"pacifica-bot/pkg/db"
	"pacifica-bot/pkg/exchange"
)

const version = "1.2.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	riskCfg, err := risk.LoadConfig(cfg.RiskProfilePath)
	if err != nil {
		log.Fatalf("risk config: %v", err)
	}

	instanceID, err := machineid.ID()
	if err != nil {
		instanceID = uuid.NewString()
		log.Printf("machine id unavailable, using %s", instanceID)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations: %v", err)
	}

	bus := events.NewBus()

	gateway := exchange.NewClient(exchange.Config{
		BaseURL:          cfg.PacificaBaseURL,
		Account:          cfg.PacificaAccount,
		Signer:           buildSigner(cfg.PacificaAccount, cfg.PacificaPrivateKey),
		MinInterval:      cfg.MinCallInterval,
		SymbolInfoTTL:    cfg.SymbolInfoTTL,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	})

	st := state.NewManager(gateway, bus, state.LossResetPolicy(riskCfg.LossResetPolicy))
	rec := &risk.Recorder{DB: database, Bus: bus, InstanceID: instanceID}
	guard := risk.NewGuard(riskCfg, st, gateway, rec)
	limiter := risk.NewLimiter(riskCfg, st, gateway, guard, rec)
	coverage := risk.NewCoverage(riskCfg, st, gateway, rec)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	baseEquity := 0.0
	if !cfg.DryRun {
		if acct, err := gateway.GetAccountInfo(ctx); err != nil {
			log.Printf("⚠️ starting equity unavailable (%v), percent limits disabled", err)
		} else {
			baseEquity = acct.Equity
		}
	}
	session := risk.NewSession(riskCfg, database, bus, instanceID, baseEquity)

	executor := order.NewExecutor(database, bus, gateway, guard, limiter, st, session)
	executor.DryRun = cfg.DryRun

	var sink notify.Sink = notify.LogSink{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		if tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotifyFallback); err != nil {
			log.Printf("⚠️ telegram unavailable (%v), falling back to log notifications", err)
		} else {
			sink = tg
		}
	}
	(&monitor.Monitor{Bus: bus, Sink: sink}).Start(ctx)

	grids := make(map[string]*strategy.Grid, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		grids[sym] = strategy.NewGrid(strategy.DefaultGridConfig(cfg.Strategy), sym, executor, st, gateway)
	}

	emergency := risk.NewEmergency(riskCfg, st, gateway, rec, cfg.Symbols, cfg.EmergencyInterval)
	emergency.Start(ctx)

	if cfg.EnableDashboard {
		server := api.NewServer(bus, database, st, session, limiter, guard, executor, gateway, cfg.JWTSecret,
			api.Meta{Symbols: cfg.Symbols, DryRun: cfg.DryRun, Version: version})
		go func() {
			if err := server.Run(ctx, ":"+cfg.Port); err != nil {
				log.Printf("dashboard: %v", err)
			}
		}()
	}

	go syncLoop(ctx, cfg, st)
	go priceLoop(ctx, cfg, st, coverage)
	go cycleLoop(ctx, bus, session, st, grids)

	log.Printf("🚀 pacifica-bot %s up: symbols=%v strategy=%s dry_run=%v instance=%s",
		version, cfg.Symbols, cfg.Strategy, cfg.DryRun, instanceID)

	runTradingLoop(ctx, cfg, st, session, limiter, coverage, grids)

	session.Stop(context.Background(), "process shutdown")
	log.Println("shutting down")
}

// runTradingLoop is the main rebalance cycle: per symbol, under its
// critical section, sync authoritative state, enforce the position ceiling,
// ensure protective coverage, then let the grid refill its levels.
func runTradingLoop(ctx context.Context, cfg *config.Config, st *state.Manager,
	session *risk.Session, limiter *risk.Limiter, coverage *risk.Coverage, grids map[string]*strategy.Grid) {

	ticker := time.NewTicker(cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if session.State() == risk.SessionStopped {
			log.Println("session stopped, trading loop exiting")
			return
		}
		for sym, grid := range grids {
			func() {
				lock := st.Locker(sym)
				lock.Lock()
				defer lock.Unlock()

				if err := st.Sync(ctx, sym); err != nil {
					log.Printf("loop[%s]: sync failed: %v", sym, err)
					return
				}
				if _, err := limiter.CheckPositionSize(ctx, sym); err != nil {
					log.Printf("loop[%s]: position size check: %v", sym, err)
				}
				if err := coverage.Ensure(ctx, sym); err != nil {
					log.Printf("loop[%s]: coverage: %v", sym, err)
				}
				if !session.CanPlaceOrders() {
					return // protective layers ran; no new grid orders while paused
				}
				if cfg.TradingActive {
					if err := grid.Rebalance(ctx); err != nil {
						log.Printf("loop[%s]: rebalance: %v", sym, err)
					}
				}
			}()
		}
	}
}

// syncLoop keeps local state reconciled with the exchange between
// rebalances, so risk layers and the dashboard never act on a stale book.
func syncLoop(ctx context.Context, cfg *config.Config, st *state.Manager) {
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range cfg.Symbols {
				lock := st.Locker(sym)
				lock.Lock()
				if err := st.Sync(ctx, sym); err != nil {
					log.Printf("sync[%s]: %v", sym, err)
				}
				lock.Unlock()
			}
		}
	}
}

// priceLoop refreshes mark prices on a faster cadence and drives the
// shadow-monitoring ticks.
func priceLoop(ctx context.Context, cfg *config.Config, st *state.Manager, coverage *risk.Coverage) {
	ticker := time.NewTicker(cfg.PriceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range cfg.Symbols {
				st.RefreshPrice(ctx, sym)
				coverage.OnPriceTick(ctx, sym)
			}
		}
	}
}

// cycleLoop feeds closed positions into the session breaker and restarts
// the grid for the affected symbol, whether the close was an ordinary
// cycle completion or a circuit-breaker exit.
func cycleLoop(ctx context.Context, bus *events.Bus, session *risk.Session, st *state.Manager, grids map[string]*strategy.Grid) {
	closes, unsub := bus.Subscribe(events.EventPositionClosed, 20)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-closes:
			if !ok {
				return
			}
			pos, ok := msg.(state.Position)
			if !ok {
				continue
			}
			out := session.OnCycleClosed(ctx, pos.Symbol, pos.UnrealizedPnL, pos.PnLPercent())
			grid, ok := grids[pos.Symbol]
			if !ok {
				continue
			}
			lock := st.Locker(pos.Symbol)
			lock.Lock()
			if err := grid.Teardown(ctx); err != nil {
				log.Printf("cycle[%s]: teardown: %v", pos.Symbol, err)
			}
			if session.CanPlaceOrders() {
				if err := grid.Init(ctx); err != nil {
					log.Printf("cycle[%s]: grid reinit: %v", pos.Symbol, err)
				}
			}
			lock.Unlock()
			if out.Breached {
				log.Printf("⚡ cycle[%s]: %s", pos.Symbol, out.Reason)
			}
		}
	}
}

// buildSigner returns a SignFunc using the account's ed25519 key. The hex
// seed accepts an optional 0x prefix; an empty key yields an unsigned
// client, which only works in dry-run.
func buildSigner(account, privateKeyHex string) exchange.SignFunc {
	if privateKeyHex == "" {
		return nil
	}
	if len(privateKeyHex) > 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	seed, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		log.Fatalf("signer: PACIFICA_PRIVATE_KEY must be a %d-byte hex seed", ed25519.SeedSize)
	}
	key := ed25519.NewKeyFromSeed(seed)
	return func(method, path string, body []byte) (http.Header, error) {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		payload := fmt.Sprintf("%s%s%s%s", ts, method, path, body)
		sig := ed25519.Sign(key, []byte(payload))
		h := http.Header{}
		h.Set("PF-API-ACCOUNT", account)
		h.Set("PF-API-TIMESTAMP", ts)
		h.Set("PF-API-SIGNATURE", hex.EncodeToString(sig))
		return h, nil
	}
}
