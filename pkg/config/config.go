package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal trader.
type Config struct {
	// HTTP and gRPC listeners
	HTTPAddr string
	GRPCAddr string

	// OKX
	OKXAPIKey     string
	OKXAPISecret  string
	OKXPassphrase string
	OKXDemo       bool
	OKXBaseURL    string
	Whitelist     []string // base currencies for the "whitelist" universe

	// Detection
	ReferenceInst string
	CandleLimit   int
	ShortPeriod   int
	LongPeriod    int

	// Stream reconnects
	ReconnectMin         time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int

	// Database
	DBPath string

	// Reconciliation; zero disables the loop
	ReconcileInterval time.Duration
	ReconcileAutoSync bool

	// Presets loaded at startup
	PresetsPath string

	// Event fan-out; empty disables AMQP
	AMQPURL      string
	AMQPExchange string

	// API rate limit per client IP
	APIRateLimit float64
	APIBurst     int

	// Logging
	LogLevel      string
	LogPretty     bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:             getEnv("GRPC_ADDR", ":9090"),
		OKXAPIKey:            os.Getenv("OKX_API_KEY"),
		OKXAPISecret:         os.Getenv("OKX_API_SECRET"),
		OKXPassphrase:        os.Getenv("OKX_PASSPHRASE"),
		OKXDemo:              getEnvBool("OKX_DEMO", true),
		OKXBaseURL:           os.Getenv("OKX_BASE_URL"),
		Whitelist:            splitAndTrim(getEnv("WHITELIST", "BTC,ETH,SOL")),
		ReferenceInst:        getEnv("REFERENCE_INST", "BTC-USDT-SWAP"),
		CandleLimit:          getEnvInt("CANDLE_LIMIT", 300),
		ShortPeriod:          getEnvInt("EMA_SHORT", 9),
		LongPeriod:           getEnvInt("EMA_LONG", 21),
		ReconnectMin:         getEnvDuration("RECONNECT_MIN", 500*time.Millisecond),
		ReconnectMax:         getEnvDuration("RECONNECT_MAX", 30*time.Second),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 10),
		DBPath:               getEnv("DB_PATH", "./data/signal-trader.db"),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileAutoSync:    getEnvBool("RECONCILE_AUTO_SYNC", true),
		PresetsPath:          os.Getenv("PRESETS_PATH"),
		AMQPURL:              os.Getenv("AMQP_URL"),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "signal-trader.events"),
		APIRateLimit:         getEnvFloat("API_RATE_LIMIT", 20),
		APIBurst:             getEnvInt("API_BURST", 40),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty:            getEnvBool("LOG_PRETTY", false),
		LogFile:              os.Getenv("LOG_FILE"),
		LogMaxSizeMB:         getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups:        getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:        getEnvInt("LOG_MAX_AGE_DAYS", 14),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ShortPeriod <= 0 || c.LongPeriod <= 0:
		return fmt.Errorf("EMA periods must be positive (short=%d long=%d)", c.ShortPeriod, c.LongPeriod)
	case c.ShortPeriod >= c.LongPeriod:
		return fmt.Errorf("EMA_SHORT (%d) must be below EMA_LONG (%d)", c.ShortPeriod, c.LongPeriod)
	case c.CandleLimit < c.LongPeriod+2:
		return fmt.Errorf("CANDLE_LIMIT (%d) must exceed EMA_LONG+1", c.CandleLimit)
	case c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin:
		return fmt.Errorf("invalid reconnect window %s..%s", c.ReconnectMin, c.ReconnectMax)
	}
	return nil
}

// HasCredentials reports whether signed OKX endpoints can be used.
func (c *Config) HasCredentials() bool {
	return c.OKXAPIKey != "" && c.OKXAPISecret != "" && c.OKXPassphrase != ""
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("1m30s") or plain seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
