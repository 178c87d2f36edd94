package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
)

const (
	defaultSymbol         = "XMR_USDT"
	defaultTimeframes     = "1m,3m,5m,15m,1h,4h"
	defaultStreamEndpoint = "wss://fstream.binance.com/stream"
	defaultRestEndpoint   = "https://fapi.binance.com"
	defaultDataDir        = "data"
	defaultExportInterval = time.Second
	defaultSnapshotDepth  = 1000
	defaultHTTPAddr       = ":5000"
	defaultMetricsAddr    = ":8080"
)

type Config struct {
	Symbol     *domain.MarketSymbol
	Timeframes []domain.Timeframe

	StreamEndpoint string
	RestEndpoint   string
	SnapshotDepth  int

	DataDir        string
	ExportInterval time.Duration

	HTTPAddr    string
	MetricsAddr string
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	symbol, err := domain.NewMarketSymbolFromString(getEnv("FOOTPRINT_SYMBOL", defaultSymbol))
	if err != nil {
		return nil, fmt.Errorf("FOOTPRINT_SYMBOL: %w", err)
	}

	timeframes, err := parseTimeframes(getEnv("FOOTPRINT_TIMEFRAMES", defaultTimeframes))
	if err != nil {
		return nil, fmt.Errorf("FOOTPRINT_TIMEFRAMES: %w", err)
	}

	depth, err := getEnvInt("FOOTPRINT_SNAPSHOT_DEPTH", defaultSnapshotDepth)
	if err != nil {
		return nil, err
	}

	exportInterval, err := getEnvDuration("FOOTPRINT_EXPORT_INTERVAL", defaultExportInterval)
	if err != nil {
		return nil, err
	}

	return &Config{
		Symbol:         symbol,
		Timeframes:     timeframes,
		StreamEndpoint: getEnv("FOOTPRINT_STREAM_ENDPOINT", defaultStreamEndpoint),
		RestEndpoint:   getEnv("FOOTPRINT_REST_ENDPOINT", defaultRestEndpoint),
		SnapshotDepth:  depth,
		DataDir:        getEnv("FOOTPRINT_DATA_DIR", defaultDataDir),
		ExportInterval: exportInterval,
		HTTPAddr:       getEnv("FOOTPRINT_HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:    getEnv("FOOTPRINT_METRICS_ADDR", defaultMetricsAddr),
	}, nil
}

func parseTimeframes(s string) ([]domain.Timeframe, error) {
	parts := strings.Split(s, ",")
	timeframes := make([]domain.Timeframe, 0, len(parts))
	seen := make(map[domain.Timeframe]bool)

	for _, part := range parts {
		tf, err := domain.ParseTimeframe(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if seen[tf] {
			continue
		}
		seen[tf] = true
		timeframes = append(timeframes, tf)
	}

	if len(timeframes) == 0 {
		return nil, fmt.Errorf("at least one timeframe is required")
	}
	return timeframes, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
