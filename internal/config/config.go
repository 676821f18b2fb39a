// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`
	// AllowOrigins lists websocket Origin values accepted; empty allows any.
	AllowOrigins []string `yaml:"allowOrigins"`
	// RateRPS/RateBurst limit inbound frames per connection; 0 disables.
	RateRPS   float64 `yaml:"rateRPS" validate:"gte=0"`
	RateBurst int     `yaml:"rateBurst" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

type RealtimeConfig struct {
	ValidateBounds  bool          `yaml:"validateBounds"`
	ScopeTripEvents bool          `yaml:"scopeTripEvents"`
	CommandBuffer   int           `yaml:"commandBuffer" validate:"gte=0"`
	SendBuffer      int           `yaml:"sendBuffer" validate:"gt=0"`
	MaxMessageBytes int64         `yaml:"maxMessageBytes" validate:"gt=0"`
	PingInterval    time.Duration `yaml:"pingInterval" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pongWait" validate:"gtfield=PingInterval"`
	WriteWait       time.Duration `yaml:"writeWait" validate:"gt=0"`
	SSEHeartbeat    time.Duration `yaml:"sseHeartbeat" validate:"gt=0"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Migrate  bool   `yaml:"migrate"`
	MaxConns int32  `yaml:"maxConns" validate:"gte=0"`
}

type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type PositionsConfig struct {
	TTL  time.Duration `yaml:"ttl" validate:"gt=0"`
	Size int           `yaml:"size" validate:"gt=0"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	LocationTopic string   `yaml:"locationTopic"`
	EventTopic    string   `yaml:"eventTopic"`
}

type RecorderConfig struct {
	QueueSize     int           `yaml:"queueSize" validate:"gt=0"`
	BatchSize     int           `yaml:"batchSize" validate:"gt=0"`
	FlushInterval time.Duration `yaml:"flushInterval" validate:"gt=0"`
	MaxAttempts   int           `yaml:"maxAttempts" validate:"gt=0"`
}

type AuthConfig struct {
	Mode        string `yaml:"mode" validate:"oneof=dev hmac jwks"`
	HMACSecret  string `yaml:"hmacSecret" validate:"required_if=Mode hmac"`
	JWKSURL     string `yaml:"jwksURL" validate:"required_if=Mode jwks,omitempty,url"`
	RoleClaim   string `yaml:"roleClaim"`
	NameClaim   string `yaml:"nameClaim"`
	RoutesClaim string `yaml:"routesClaim"`
}

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Positions PositionsConfig `yaml:"positions"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Auth      AuthConfig      `yaml:"auth"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RateRPS:           20,
			RateBurst:         40,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Realtime: RealtimeConfig{
			ValidateBounds:  true,
			CommandBuffer:   1024,
			SendBuffer:      256,
			MaxMessageBytes: 64 << 10,
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
			SSEHeartbeat:    15 * time.Second,
		},
		Database:  DatabaseConfig{Migrate: true, MaxConns: 10},
		Redis:     RedisConfig{Prefix: "bustrack"},
		Positions: PositionsConfig{TTL: 5 * time.Minute, Size: 10000},
		Kafka:     KafkaConfig{LocationTopic: "gps-data", EventTopic: "transit-events"},
		Recorder: RecorderConfig{
			QueueSize:     4096,
			BatchSize:     100,
			FlushInterval: time.Second,
			MaxAttempts:   3,
		},
		Auth: AuthConfig{Mode: "dev"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	return validator.New().Struct(cfg)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(k string, dst *string) {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(k string, dst *[]string) {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("AUTH_MODE", &cfg.Auth.Mode)
	str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("AUTH_JWKS_URL", &cfg.Auth.JWKSURL)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	list("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	list("ALLOW_ORIGINS", &cfg.Server.AllowOrigins)
	cfg.Auth.Mode = strings.ToLower(cfg.Auth.Mode)

	if v, ok := lookup("PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = n
	}
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DB_MIGRATE: %w", err)
		}
		cfg.Database.Migrate = b
	}
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		cfg.Server.RateRPS = f
	}
	if v, ok := lookup("RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		cfg.Server.RateBurst = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
