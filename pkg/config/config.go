package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot.
type Config struct {
	Port string

	// Pacifica
	PacificaBaseURL    string
	PacificaAccount    string
	PacificaPrivateKey string
	Symbols            []string

	// Execution
	DryRun        bool
	TradingActive bool

	// Strategy
	Strategy        string // static_grid, mm_grid, dynamic_grid
	RiskProfilePath string // optional YAML risk profile

	// Cadence
	SyncInterval      time.Duration
	PriceInterval     time.Duration
	EmergencyInterval time.Duration
	RebalanceInterval time.Duration

	// Gateway pacing and caching. Operationally tuned defaults,
	// not protocol constants.
	MinCallInterval time.Duration
	SymbolInfoTTL   time.Duration

	// Database
	DBPath string

	// Dashboard
	EnableDashboard bool
	JWTSecret       string

	// Telegram (best-effort sink)
	TelegramToken  string
	TelegramChatID int64
	NotifyFallback string // on-disk fallback log for failed notifications
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the bot still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		PacificaBaseURL:    getEnv("PACIFICA_BASE_URL", "https://api.pacifica.fi/api/v1"),
		PacificaAccount:    os.Getenv("PACIFICA_ACCOUNT"),
		PacificaPrivateKey: os.Getenv("PACIFICA_PRIVATE_KEY"),
		Symbols:            splitAndTrim(getEnv("SYMBOLS", "BTC")),
		DryRun:             getEnv("DRY_RUN", "false") == "true",
		TradingActive:      getEnv("TRADING_ACTIVE", "true") == "true",
		Strategy:           getEnv("STRATEGY", "static_grid"),
		RiskProfilePath:    getEnv("RISK_PROFILE_PATH", ""),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 5*time.Second),
		PriceInterval:      getEnvDuration("PRICE_INTERVAL", 2*time.Second),
		EmergencyInterval:  getEnvDuration("EMERGENCY_INTERVAL", 3*time.Second),
		RebalanceInterval:  getEnvDuration("REBALANCE_INTERVAL", 15*time.Second),
		MinCallInterval:    getEnvDuration("MIN_CALL_INTERVAL", 1200*time.Millisecond),
		SymbolInfoTTL:      getEnvDuration("SYMBOL_INFO_TTL", 90*time.Second),
		DBPath:             getEnv("DB_PATH", "./data/pacifica.db"),
		EnableDashboard:    getEnv("ENABLE_DASHBOARD", "true") == "true",
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     getEnvInt64("TELEGRAM_CHAT_ID", 0),
		NotifyFallback:     getEnv("NOTIFY_FALLBACK_PATH", "./data/alerts.log"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate blocks startup on fatal configuration errors. Missing credentials
// must never be silently defaulted into live trading.
func (c *Config) validate() error {
	if !c.DryRun {
		if c.PacificaAccount == "" {
			return fmt.Errorf("config: PACIFICA_ACCOUNT is required for live trading")
		}
		if c.PacificaPrivateKey == "" {
			return fmt.Errorf("config: PACIFICA_PRIVATE_KEY is required for live trading")
		}
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol is required")
	}
	switch c.Strategy {
	case "static_grid", "mm_grid", "dynamic_grid":
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}
