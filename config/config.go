package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/logger"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Universe and cycle
	Symbols         []string
	QuoteCurrency   string
	CycleInterval   time.Duration
	MaxTradesPerDay int
	EntryScoreMin   float64
	MinQuoteBalance float64
	DryRun          bool

	// Rotation thresholds
	TakeProfitPct float64       // unrealized gain (percent) that takes profit
	StopLossPct   float64       // unrealized loss (percent) that cuts the position
	StaleAfter    time.Duration // age after which a flat position rotates out
	StaleMovePct  float64       // |pnl| (percent) under which an aged position is flat
	MaxHoldTime   time.Duration // unconditional age limit
	MinScore      float64       // score under which a position rotates out
	DustThreshold float64       // quote value under which a position is dust

	// Execution
	MaxRetries         int
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
	PlaceRestingTP     bool

	// Risk (percent units in the environment; the engine works in fractions)
	BaseRiskPct      float64
	MaxRiskPct       float64
	MaxPositionPct   float64
	RiskRewardRatio  float64
	MaxOpenPositions int
	MaxDrawdownPct   float64
	EntryFeePct      float64
	ExitFeePct       float64
	SlippagePct      float64
	StagedLevels     []risk.StagedLevel

	// Signals
	SignalInterval string
	SignalLookback int

	// Storage and surfaces
	DBPath      string
	MirrorPath  string
	MetricsAddr string // empty disables the metrics/health server

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.DryRun = getEnvAsBool("DRY_RUN", false)

	if cfg.APIKey == "" && !cfg.DryRun {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" && !cfg.DryRun {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Universe and cycle
	cfg.Symbols = splitList(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.QuoteCurrency = getEnv("QUOTE_CURRENCY", "USDT")

	cycleSeconds := getEnvAsInt("CYCLE_INTERVAL_SECONDS", 60)
	if cycleSeconds <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_SECONDS must be positive")
	}
	cfg.CycleInterval = time.Duration(cycleSeconds) * time.Second

	cfg.MaxTradesPerDay = getEnvAsInt("MAX_TRADES_PER_DAY", 5)
	if cfg.MaxTradesPerDay < 0 {
		errs = append(errs, "MAX_TRADES_PER_DAY cannot be negative")
	}

	cfg.EntryScoreMin = getEnvAsFloat("ENTRY_SCORE_MIN", 60)
	if cfg.EntryScoreMin < 0 || cfg.EntryScoreMin > 100 {
		errs = append(errs, "ENTRY_SCORE_MIN must be between 0 and 100")
	}
	cfg.MinQuoteBalance = getEnvAsFloat("MIN_QUOTE_BALANCE", 50)
	if cfg.MinQuoteBalance < 0 {
		errs = append(errs, "MIN_QUOTE_BALANCE cannot be negative")
	}

	// Rotation thresholds
	cfg.TakeProfitPct = getEnvAsFloat("TAKE_PROFIT_PCT", 3.0)
	cfg.StopLossPct = getEnvAsFloat("STOP_LOSS_PCT", 5.0)
	if cfg.TakeProfitPct <= 0 || cfg.StopLossPct <= 0 {
		errs = append(errs, "TAKE_PROFIT_PCT and STOP_LOSS_PCT must be positive")
	}
	cfg.StaleAfter = time.Duration(getEnvAsInt("STALE_AFTER_HOURS", 48)) * time.Hour
	cfg.StaleMovePct = getEnvAsFloat("STALE_MOVE_PCT", 1.0)
	cfg.MaxHoldTime = time.Duration(getEnvAsInt("MAX_HOLD_HOURS", 168)) * time.Hour
	if cfg.StaleAfter <= 0 || cfg.MaxHoldTime <= 0 {
		errs = append(errs, "STALE_AFTER_HOURS and MAX_HOLD_HOURS must be positive")
	}
	if cfg.MaxHoldTime < cfg.StaleAfter {
		errs = append(errs, "MAX_HOLD_HOURS must not be less than STALE_AFTER_HOURS")
	}
	cfg.MinScore = getEnvAsFloat("MIN_SCORE", 30)
	cfg.DustThreshold = getEnvAsFloat("DUST_THRESHOLD", 10)
	if cfg.DustThreshold < 0 {
		errs = append(errs, "DUST_THRESHOLD cannot be negative")
	}

	// Execution
	cfg.MaxRetries = getEnvAsInt("ORDER_MAX_RETRIES", 3)
	if cfg.MaxRetries < 0 {
		errs = append(errs, "ORDER_MAX_RETRIES cannot be negative")
	}
	cfg.BreakerMaxFailures = getEnvAsInt("BREAKER_MAX_FAILURES", 5)
	if cfg.BreakerMaxFailures <= 0 {
		errs = append(errs, "BREAKER_MAX_FAILURES must be positive")
	}
	breakerSeconds := getEnvAsInt("BREAKER_COOLDOWN_SECONDS", 30)
	if breakerSeconds <= 0 {
		errs = append(errs, "BREAKER_COOLDOWN_SECONDS must be positive")
	}
	cfg.BreakerCooldown = time.Duration(breakerSeconds) * time.Second
	cfg.PlaceRestingTP = getEnvAsBool("PLACE_RESTING_TP", true)

	// Risk
	cfg.BaseRiskPct = getEnvAsFloat("BASE_RISK_PCT", 1.0)
	cfg.MaxRiskPct = getEnvAsFloat("MAX_RISK_PCT", 2.0)
	cfg.MaxPositionPct = getEnvAsFloat("MAX_POSITION_PCT", 2.0)
	if cfg.BaseRiskPct <= 0 || cfg.MaxRiskPct <= 0 || cfg.MaxPositionPct <= 0 {
		errs = append(errs, "BASE_RISK_PCT, MAX_RISK_PCT and MAX_POSITION_PCT must be positive")
	}
	if cfg.BaseRiskPct > cfg.MaxRiskPct {
		errs = append(errs, "BASE_RISK_PCT must not exceed MAX_RISK_PCT")
	}
	cfg.RiskRewardRatio = getEnvAsFloat("RISK_REWARD_RATIO", 2.0)
	if cfg.RiskRewardRatio <= 0 {
		errs = append(errs, "RISK_REWARD_RATIO must be positive")
	}
	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 10)
	if cfg.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}
	cfg.MaxDrawdownPct = getEnvAsFloat("MAX_DRAWDOWN_PCT", 20)
	cfg.EntryFeePct = getEnvAsFloat("ENTRY_FEE_PCT", 0.1)
	cfg.ExitFeePct = getEnvAsFloat("EXIT_FEE_PCT", 0.1)
	cfg.SlippagePct = getEnvAsFloat("SLIPPAGE_PCT", 0.05)
	if cfg.EntryFeePct < 0 || cfg.ExitFeePct < 0 || cfg.SlippagePct < 0 {
		errs = append(errs, "ENTRY_FEE_PCT, EXIT_FEE_PCT and SLIPPAGE_PCT cannot be negative")
	}
	levels, levelsErr := parseStagedLevels(getEnv("STAGED_TP_LEVELS", "0.5:0.6,0.3:1.0,0.2:1.5"))
	if levelsErr != nil {
		errs = append(errs, fmt.Sprintf("STAGED_TP_LEVELS: %v", levelsErr))
	}
	cfg.StagedLevels = levels

	// Signals
	cfg.SignalInterval = getEnv("SIGNAL_INTERVAL", "1h")
	cfg.SignalLookback = getEnvAsInt("SIGNAL_LOOKBACK", 100)
	if cfg.SignalLookback <= 0 {
		errs = append(errs, "SIGNAL_LOOKBACK must be positive")
	}

	// Storage and surfaces
	cfg.DBPath = getEnv("DB_PATH", "./data/rotator.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.MirrorPath = getEnv("MIRROR_PATH", "./data/state.json")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// RiskParameters maps the configured risk tunables onto the risk engine's
// parameter set, starting from its defaults. Environment values are percent;
// the engine works in fractions.
func (c *Config) RiskParameters() risk.Parameters {
	p := risk.DefaultParameters()
	p.BaseRiskPct = c.BaseRiskPct / 100
	p.MaxRiskPct = c.MaxRiskPct / 100
	p.MaxPositionPct = c.MaxPositionPct / 100
	p.RiskRewardRatio = c.RiskRewardRatio
	p.MaxOpenPositions = c.MaxOpenPositions
	p.MaxDrawdownPct = c.MaxDrawdownPct / 100
	p.Fees = risk.FeePolicy{
		EntryFeeRate: c.EntryFeePct / 100,
		ExitFeeRate:  c.ExitFeePct / 100,
		SlippagePct:  c.SlippagePct / 100,
	}
	if len(c.StagedLevels) > 0 {
		p.StagedLevels = c.StagedLevels
	}
	return p
}

// parseStagedLevels parses "portion:rewardMult" pairs, e.g.
// "0.5:0.6,0.3:1.0,0.2:1.5". Portions must be positive and sum to 1.
func parseStagedLevels(value string) ([]risk.StagedLevel, error) {
	var out []risk.StagedLevel
	var total float64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed level %q, want portion:rewardMult", part)
		}
		portion, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad portion in %q: %v", part, err)
		}
		mult, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad reward multiple in %q: %v", part, err)
		}
		if portion <= 0 || portion > 1 || mult <= 0 {
			return nil, fmt.Errorf("level %q out of range", part)
		}
		total += portion
		out = append(out, risk.StagedLevel{Portion: portion, RewardMult: mult})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no levels configured")
	}
	if total < 0.999 || total > 1.001 {
		return nil, fmt.Errorf("portions sum to %v, want 1", total)
	}
	return out, nil
}

// --- Env Var Helpers ---

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
