package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr               string
	DSN                string
	JWTSecret          string
	RedisAddr          string
	RedisChannelPrefix string
	LogMode            string
	TokenTTL           time.Duration
	PresenceInterval   time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// MapEnv is an Env backed by a map.
type MapEnv map[string]string

func (m MapEnv) Getenv(key string) string { return m[key] }

// Load reads the environment, then lets -addr override the listen address.
func Load() (Config, error) {
	cfg, err := LoadFromEnv(osEnv{})
	if err != nil {
		return Config{}, err
	}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "http service address")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadFromEnv(env Env) (Config, error) {
	cfg := Config{
		Addr:               ":8080",
		RedisAddr:          "localhost:6379",
		RedisChannelPrefix: "messages",
		LogMode:            "development",
		TokenTTL:           24 * time.Hour,
		PresenceInterval:   30 * time.Second,
	}

	cfg.DSN = env.Getenv("DB_DSN")
	if cfg.DSN == "" {
		return Config{}, fmt.Errorf("DB_DSN is required")
	}
	cfg.JWTSecret = env.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	if raw := env.Getenv("ADDR"); raw != "" {
		cfg.Addr = raw
	}
	if raw := env.Getenv("REDIS_ADDR"); raw != "" {
		cfg.RedisAddr = raw
	}
	if raw := env.Getenv("REDIS_CHANNEL_PREFIX"); raw != "" {
		cfg.RedisChannelPrefix = raw
	}
	if raw := env.Getenv("LOG_MODE"); raw != "" {
		cfg.LogMode = raw
	}

	ttl, err := seconds(env, "TOKEN_TTL_SECONDS", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL = ttl

	presence, err := seconds(env, "PRESENCE_INTERVAL_SECONDS", cfg.PresenceInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.PresenceInterval = presence

	return cfg, nil
}

func seconds(env Env, key string, def time.Duration) (time.Duration, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(n) * time.Second, nil
}
