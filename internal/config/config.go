package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	StockCheckTimeoutMS      int
	PriceDriftToleranceCents int64
	TotalDriftToleranceCents int64
	DefaultBatchStrategy     string
	StatsTTLSeconds          int
	ValuationScanMinutes     int
	ReceiptWebhookURL        string
}

func Load() Config {
	// A missing .env file is fine; env vars may come from the environment.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	stockTimeout := getEnvInt("STOCK_CHECK_TIMEOUT_MS", 5000)
	statsTTL := getEnvInt("STATS_TTL_SECONDS", 60)
	scanMinutes := getEnvInt("VALUATION_SCAN_MINUTES", 15)

	priceDrift := int64(getEnvInt("PRICE_DRIFT_TOLERANCE_CENTS", 2))
	totalDrift := int64(getEnvInt("TOTAL_DRIFT_TOLERANCE_CENTS", 5))

	strategy := strings.ToLower(getEnv("DEFAULT_BATCH_STRATEGY", "fifo"))
	if strategy != "fifo" && strategy != "fefo" {
		strategy = "fifo"
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    tokenTTL,
		StockCheckTimeoutMS:      stockTimeout,
		PriceDriftToleranceCents: priceDrift,
		TotalDriftToleranceCents: totalDrift,
		DefaultBatchStrategy:     strategy,
		StatsTTLSeconds:          statsTTL,
		ValuationScanMinutes:     scanMinutes,
		ReceiptWebhookURL:        strings.TrimSpace(os.Getenv("RECEIPT_WEBHOOK_URL")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
