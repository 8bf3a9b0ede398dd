package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the escrow daemon.
type Config struct {
	Port            int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	WebhookTimeout time.Duration
	RelayInterval  time.Duration
	RelayBatchSize int

	AuthMode    string
	AuthMaxSkew time.Duration

	AdminAddress        common.Address
	FeeCollectorAddress common.Address
	EscrowAddress       common.Address
	TokenAddress        common.Address
	TokenSymbol         string
	TokenDecimals       uint8
	TokenMinterAddress  common.Address

	FeeRateBps      uint32
	MinTradeAmount  int64
	MaxTradeAmount  int64
	MinExchangeRate decimal.Decimal
	MaxExchangeRate decimal.Decimal

	// Optional sinks; empty disables them.
	PostgresDSN       string
	NATSURL           string
	NATSSubjectPrefix string
}

const (
	defaultEscrowAddress = "0x00000000000000000000000000000000000e5c40"
	defaultTokenAddress  = "0x0000000000000000000000000000000000007070"
)

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
// ADMIN_ADDRESS is the only required variable.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	cfg.LogLevel = getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"READ_TIMEOUT", &cfg.ReadTimeout, 5 * time.Second},
		{"WRITE_TIMEOUT", &cfg.WriteTimeout, 10 * time.Second},
		{"IDLE_TIMEOUT", &cfg.IdleTimeout, 60 * time.Second},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 10 * time.Second},
		{"WEBHOOK_TIMEOUT", &cfg.WebhookTimeout, 5 * time.Second},
		{"RELAY_INTERVAL", &cfg.RelayInterval, 1 * time.Second},
		{"AUTH_MAX_SKEW", &cfg.AuthMaxSkew, 5 * time.Minute},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}
	if cfg.RelayInterval <= 0 {
		return nil, fmt.Errorf("invalid RELAY_INTERVAL: must be positive")
	}

	if cfg.RelayBatchSize, err = getInt("RELAY_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("invalid RELAY_BATCH_SIZE: %w", err)
	}
	if cfg.RelayBatchSize < 1 {
		return nil, fmt.Errorf("invalid RELAY_BATCH_SIZE: must be at least 1")
	}

	cfg.AuthMode = getStr("AUTH_MODE", "signature")
	if cfg.AuthMode != "signature" && cfg.AuthMode != "header" {
		return nil, fmt.Errorf("invalid AUTH_MODE: %q, must be one of: signature, header", cfg.AuthMode)
	}

	if err := loadAddresses(cfg); err != nil {
		return nil, err
	}

	cfg.TokenSymbol = getStr("TOKEN_SYMBOL", "USDX")
	decimals, err := getInt("TOKEN_DECIMALS", 6)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_DECIMALS: %w", err)
	}
	if decimals < 0 || decimals > 18 {
		return nil, fmt.Errorf("invalid TOKEN_DECIMALS: %d, must be between 0 and 18", decimals)
	}
	cfg.TokenDecimals = uint8(decimals)

	if err := loadLimits(cfg); err != nil {
		return nil, err
	}

	cfg.PostgresDSN = getStr("POSTGRES_DSN", "")
	cfg.NATSURL = getStr("NATS_URL", "")
	cfg.NATSSubjectPrefix = getStr("NATS_SUBJECT_PREFIX", "p2pescrow")

	return cfg, nil
}

func loadAddresses(cfg *Config) error {
	raw := os.Getenv("ADMIN_ADDRESS")
	if raw == "" {
		return errors.New("invalid ADMIN_ADDRESS: required")
	}
	var err error
	if cfg.AdminAddress, err = parseAddress("ADMIN_ADDRESS", raw); err != nil {
		return err
	}

	admin := cfg.AdminAddress.Hex()
	addresses := []struct {
		key string
		dst *common.Address
		def string
	}{
		{"FEE_COLLECTOR_ADDRESS", &cfg.FeeCollectorAddress, admin},
		{"ESCROW_ADDRESS", &cfg.EscrowAddress, defaultEscrowAddress},
		{"TOKEN_ADDRESS", &cfg.TokenAddress, defaultTokenAddress},
		{"TOKEN_MINTER_ADDRESS", &cfg.TokenMinterAddress, admin},
	}
	for _, a := range addresses {
		if *a.dst, err = parseAddress(a.key, getStr(a.key, a.def)); err != nil {
			return err
		}
	}
	if cfg.EscrowAddress == cfg.TokenAddress {
		return errors.New("invalid ESCROW_ADDRESS: must differ from TOKEN_ADDRESS")
	}
	return nil
}

func loadLimits(cfg *Config) error {
	feeRate, err := getInt("FEE_RATE_BPS", int(domain.DefaultFeeRate))
	if err != nil {
		return fmt.Errorf("invalid FEE_RATE_BPS: %w", err)
	}
	if feeRate < 0 {
		return fmt.Errorf("invalid FEE_RATE_BPS: %w", domain.ErrInvalidFeeRate)
	}
	cfg.FeeRateBps = uint32(feeRate)
	if err := domain.ValidateFeeRate(cfg.FeeRateBps); err != nil {
		return fmt.Errorf("invalid FEE_RATE_BPS: %w", err)
	}

	if cfg.MinTradeAmount, err = getInt64("MIN_TRADE_AMOUNT", domain.DefaultMinTradeAmount); err != nil {
		return fmt.Errorf("invalid MIN_TRADE_AMOUNT: %w", err)
	}
	if cfg.MaxTradeAmount, err = getInt64("MAX_TRADE_AMOUNT", domain.DefaultMaxTradeAmount); err != nil {
		return fmt.Errorf("invalid MAX_TRADE_AMOUNT: %w", err)
	}
	if err := domain.ValidateTradeLimits(cfg.MinTradeAmount, cfg.MaxTradeAmount); err != nil {
		return fmt.Errorf("invalid MIN_TRADE_AMOUNT/MAX_TRADE_AMOUNT: %w", err)
	}

	if cfg.MinExchangeRate, err = getDecimal("MIN_EXCHANGE_RATE", domain.DefaultMinExchangeRate); err != nil {
		return fmt.Errorf("invalid MIN_EXCHANGE_RATE: %w", err)
	}
	if cfg.MaxExchangeRate, err = getDecimal("MAX_EXCHANGE_RATE", domain.DefaultMaxExchangeRate); err != nil {
		return fmt.Errorf("invalid MAX_EXCHANGE_RATE: %w", err)
	}
	if err := domain.ValidateRateBounds(cfg.MinExchangeRate, cfg.MaxExchangeRate); err != nil {
		return fmt.Errorf("invalid MIN_EXCHANGE_RATE/MAX_EXCHANGE_RATE: %w", err)
	}
	return nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return decimal.NewFromString(v)
}

func parseAddress(key, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not a hex address", key, raw)
	}
	return common.HexToAddress(raw), nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
