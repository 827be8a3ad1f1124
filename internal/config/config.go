package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile         string
	AttachmentsDir string
	OpsAddr        string
	APIAddr        string
	AuthSecret     string
	TokenExpiry    time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
	PushTTL         time.Duration

	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	TypingTTL         time.Duration
	RecentMessages    int

	RedisAddr         string
	MessageRateLimit  int
	MessageRateWindow time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
func Load(cliMode bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBFile:          getEnv("BEACON_DB", "beacon.db"),
		AttachmentsDir:  getEnv("ATTACHMENTS_DIR", "attachments"),
		OpsAddr:         getEnv("OPS_ADDR", "localhost:8081"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		AuthSecret:      os.Getenv("AUTH_SECRET"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:ops@example.com"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
	}

	var err error
	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"TOKEN_EXPIRY", "24h", &cfg.TokenExpiry},
		{"PUSH_TTL", "24h", &cfg.PushTTL},
		{"HEARTBEAT_INTERVAL", "30s", &cfg.HeartbeatInterval},
		{"READ_TIMEOUT", "90s", &cfg.ReadTimeout},
		{"TYPING_TTL", "5s", &cfg.TypingTTL},
		{"MESSAGE_RATE_WINDOW", "10s", &cfg.MessageRateWindow},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getEnv(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if cfg.RecentMessages, err = strconv.Atoi(getEnv("RECENT_MESSAGES", "100")); err != nil {
		return nil, fmt.Errorf("RECENT_MESSAGES: %w", err)
	}
	if cfg.MessageRateLimit, err = strconv.Atoi(getEnv("MESSAGE_RATE_LIMIT", "20")); err != nil {
		return nil, fmt.Errorf("MESSAGE_RATE_LIMIT: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	if c.ReadTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("READ_TIMEOUT must be longer than HEARTBEAT_INTERVAL")
	}

	if c.MessageRateLimit <= 0 || c.MessageRateWindow <= 0 {
		return fmt.Errorf("MESSAGE_RATE_LIMIT and MESSAGE_RATE_WINDOW must be greater than 0")
	}

	if c.RecentMessages <= 0 {
		return fmt.Errorf("RECENT_MESSAGES must be greater than 0")
	}

	return nil
}

// PushEnabled reports whether platform push is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
