package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Upstream endpoints of the P2P地震情報 API v2.
const (
	ProductionBaseURL = "https://api.p2pquake.net/v2"
	ProductionWSURL   = "wss://api.p2pquake.net/v2/ws"
	SandboxBaseURL    = "https://api-v2-sandbox.p2pquake.net/v2"
	SandboxWSURL      = "wss://api-realtime-sandbox.p2pquake.net/v2/ws"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Upstream P2P API.
	UseSandbox        bool
	WebSocketEnabled  bool
	BaseURL           string
	WSURL             string
	ReconnectInterval time.Duration
	APITimeout        time.Duration
	RateLimitDelay    time.Duration
	HistorySize       int

	// Optional event sinks.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	SQLiteEnabled           bool
	SQLitePath              string
	AlertMagnitudeThreshold float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	reconnect, err := parsePositiveDuration("P2P_RECONNECT_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	apiTimeout, err := parsePositiveDuration("P2P_API_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	rateDelay, err := time.ParseDuration(sharedcfg.EnvOrDefault("P2P_RATE_LIMIT_DELAY", "1s"))
	if err != nil || rateDelay < 0 {
		return nil, errors.New("invalid P2P_RATE_LIMIT_DELAY")
	}

	historySize, err := strconv.Atoi(sharedcfg.EnvOrDefault("P2P_HISTORY_SIZE", "1000"))
	if err != nil || historySize <= 0 {
		return nil, errors.New("invalid P2P_HISTORY_SIZE: must be a positive integer")
	}

	threshold, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("ALERT_MAGNITUDE_THRESHOLD", "5.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ALERT_MAGNITUDE_THRESHOLD: %w", err)
	}

	useSandbox := parseBool("P2P_USE_SANDBOX", false)
	baseURL, wsURL := ProductionBaseURL, ProductionWSURL
	if useSandbox {
		baseURL, wsURL = SandboxBaseURL, SandboxWSURL
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		UseSandbox:        useSandbox,
		WebSocketEnabled:  parseBool("P2P_WEBSOCKET_ENABLED", true),
		BaseURL:           sharedcfg.EnvOrDefault("P2P_BASE_URL", baseURL),
		WSURL:             sharedcfg.EnvOrDefault("P2P_WS_URL", wsURL),
		ReconnectInterval: reconnect,
		APITimeout:        apiTimeout,
		RateLimitDelay:    rateDelay,
		HistorySize:       historySize,

		KafkaEnabled: parseBool("KAFKA_ENABLED", false),
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "p2p-quake-events"),

		SQLiteEnabled:           parseBool("SQLITE_ENABLED", false),
		SQLitePath:              sharedcfg.EnvOrDefault("SQLITE_PATH", "disaster_data.db"),
		AlertMagnitudeThreshold: threshold,
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}
	if cfg.SQLiteEnabled && cfg.SQLitePath == "" {
		return nil, errors.New("SQLITE_PATH is required")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
