package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the relay server settings, read from the environment.
type Config struct {
	Port           string      `envconfig:"PORT" default:"8080"`
	Environment    string      `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string      `envconfig:"LOG_LEVEL" default:"info"`
	AllowedOrigins []string    `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	JWTSecret      string      `envconfig:"JWT_SECRET" default:"change-me-in-production"`
	Redis          RedisConfig `envconfig:"REDIS"`
	RelayConfig
}

// RedisConfig locates the Redis instance used for room metadata and presence.
type RedisConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

// RelayConfig bounds the per-room websocket relay.
type RelayConfig struct {
	RoomCapacity    int           `envconfig:"ROOM_CAPACITY" default:"2"`
	RoomTTL         time.Duration `envconfig:"ROOM_TTL" default:"24h"`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	PingPeriod      time.Duration `envconfig:"WS_PING_PERIOD" default:"54s"`
	PongWait        time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
	WriteWait       time.Duration `envconfig:"WS_WRITE_WAIT" default:"10s"`
	SendBuffer      int           `envconfig:"SEND_BUFFER" default:"256"`
}

// ClientConfig configures the negotiation client side of a call.
type ClientConfig struct {
	RelayURL           string        `envconfig:"RELAY_URL" default:"ws://localhost:8080"`
	StunURLs           []string      `envconfig:"STUN_URLS" default:"stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"`
	NegotiationTimeout time.Duration `envconfig:"NEGOTIATION_TIMEOUT" default:"30s"`
	ReconnectDelay     time.Duration `envconfig:"RECONNECT_DELAY" default:"2s"`
	OutboxSize         int           `envconfig:"OUTBOX_SIZE" default:"128"`
}

// Load reads and validates the server configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads and validates the call client configuration.
func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.StunURLs = trimAll(cfg.StunURLs)
	if _, err := ParseSTUNServers(cfg.StunURLs); err != nil {
		return nil, fmt.Errorf("STUN_URLS: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RelayConfig.RoomCapacity < 2 {
		return fmt.Errorf("ROOM_CAPACITY must be at least 2, got %d", c.RelayConfig.RoomCapacity)
	}
	if c.RelayConfig.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive")
	}
	if c.RelayConfig.PingPeriod >= c.RelayConfig.PongWait {
		return fmt.Errorf("WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)", c.RelayConfig.PingPeriod, c.RelayConfig.PongWait)
	}
	if c.RelayConfig.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
