package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Store          string
	RoomIdleTTL    time.Duration
	ICEServers     []webrtc.ICEServer
	LogLevel       string
	LogFormat      string
	Redis          RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Load reads configuration from the environment, then applies command line
// overrides from args.
func Load(args []string) (*Config, error) {
	// Parse allowed origins (comma-separated)
	origins := splitCommaSeparated(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173,http://localhost:8787"))

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, errors.Wrap(err, "REDIS_DB")
	}

	idleTTL, err := time.ParseDuration(getEnv("ROOM_IDLE_TTL", "5m"))
	if err != nil {
		return nil, errors.Wrap(err, "ROOM_IDLE_TTL")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Store:          getEnv("STORE", StoreMemory),
		RoomIdleTTL:    idleTTL,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
	}

	fs := pflag.NewFlagSet("signaling", pflag.ContinueOnError)
	fs.StringVarP(&cfg.Port, "port", "p", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.Environment, "env", cfg.Environment, "Deployment environment (development or production)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "origins", cfg.AllowedOrigins, "Allowed browser origins, * allows any")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Session attachment store (memory or redis)")
	fs.DurationVar(&cfg.RoomIdleTTL, "room-idle-ttl", cfg.RoomIdleTTL, "How long an empty room stays resident before it is dropped")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text or json)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case StoreMemory, StoreRedis:
	default:
		return nil, errors.Errorf("unsupported store %q", cfg.Store)
	}
	if cfg.RoomIdleTTL <= 0 {
		return nil, errors.New("room idle ttl must be positive")
	}

	cfg.ICEServers, err = LoadICEServers(os.Getenv(envICEServersJSON), getEnv(envStunURLs, DefaultStunURL))
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
