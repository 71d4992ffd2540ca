package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment. Variables that are
// already set win, and a missing file is ignored.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	setString(&cfg.Log.Level, "LOG_LEVEL")

	collect(setFloat(&cfg.Strategy.FundingRateThresholdPct, "FUNDING_RATE_THRESHOLD"))
	collect(setFloat(&cfg.Strategy.PriceDeviationThresholdPct, "PRICE_DEVIATION_THRESHOLD"))
	collect(setFloat(&cfg.Strategy.BalanceAdjustmentThresholdPct, "BALANCE_ADJUSTMENT_THRESHOLD"))
	collect(setFloat(&cfg.Strategy.PositionSizeUSD, "POSITION_SIZE_USD"))
	collect(setFloat(&cfg.Strategy.MaxPositionSizeUSD, "MAX_POSITION_SIZE_USD"))
	collect(setSeconds(&cfg.Strategy.CheckInterval, "CHECK_INTERVAL_SECONDS"))
	collect(setBool(&cfg.Strategy.DryRun, "DRY_RUN"))

	setString(&cfg.Bybit.APIKey, "BYBIT_API_KEY")
	setString(&cfg.Bybit.APISecret, "BYBIT_API_SECRET")
	setString(&cfg.Bybit.Symbol, "BYBIT_SYMBOL")
	collect(setBool(&cfg.Bybit.Testnet, "BYBIT_TESTNET"))

	setString(&cfg.Drift.GatewayURL, "DRIFT_GATEWAY_URL")
	setString(&cfg.Drift.DataAPIURL, "DRIFT_DATA_API_URL")
	setString(&cfg.Drift.Market, "DRIFT_MARKET")
	collect(setIntPtr(&cfg.Drift.MarketIndex, "DRIFT_MARKET_INDEX"))

	setString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Timescale.DSN, "TIMESCALE_DSN")
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setFloat(dst *float64, key string) error {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setIntPtr(dst **int, key string) error {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = &parsed
	return nil
}

func setBool(dst *bool, key string) error {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.ToLower(val))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setSeconds(dst *time.Duration, key string) error {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return nil
	}
	secs, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = time.Duration(secs) * time.Second
	return nil
}
