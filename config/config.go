// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Logger  LoggerConfig
	Store   StoreConfig
	Redis   RedisConfig
	Signals SignalConfig
	Cache   CacheConfig
	Admin   AdminConfig
}

type ServerConfig struct {
	AppEnv   string
	HTTPPort string
}

type LoggerConfig struct {
	Development       bool
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type StoreConfig struct {
	DBPath   string
	Timezone string
}

// RedisConfig with an empty Addr selects the in-process signal medium.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type SignalConfig struct {
	Topic         string
	Origin        string
	CatchUpWindow time.Duration
}

type CacheConfig struct {
	Debounce    time.Duration
	IdleTimeout time.Duration
}

type AdminConfig struct {
	Secret string
	// OverrideRate is the number of override calls allowed per minute.
	OverrideRate  int
	OverrideBurst int
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) *Config {
	_ = godotenv.Load(files...) // missing .env is fine
	return LoadEnv()
}

func LoadEnv() *Config {
	env := getEnv("APP_ENV", "development")
	dev := env == "development"

	encoding := "json"
	level := "info"
	if dev {
		encoding = "console"
		level = "debug"
	}

	host, _ := os.Hostname()

	return &Config{
		Server: ServerConfig{
			AppEnv:   env,
			HTTPPort: getEnv("HTTP_PORT", "8080"),
		},
		Logger: LoggerConfig{
			Development:       dev,
			Level:             getEnv("LOGGER_LEVEL", level),
			Encoding:          getEnv("LOGGER_ENCODING", encoding),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", !dev),
		},
		Store: StoreConfig{
			DBPath:   getEnv("DB_PATH", "stock.db"),
			Timezone: getEnv("STOCK_TIMEZONE", "UTC"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_SIGNAL_TTL", 24*time.Hour),
		},
		Signals: SignalConfig{
			Topic:         getEnv("SIGNAL_TOPIC", "stock:catalog-signals"),
			Origin:        getEnv("SIGNAL_ORIGIN", host),
			CatchUpWindow: getEnvDuration("SIGNAL_CATCHUP_WINDOW", 10*time.Second),
		},
		Cache: CacheConfig{
			Debounce:    getEnvDuration("CACHE_DEBOUNCE", 500*time.Millisecond),
			IdleTimeout: getEnvDuration("CACHE_IDLE_TIMEOUT", 10*time.Minute),
		},
		Admin: AdminConfig{
			Secret:        getEnv("ADMIN_SECRET", ""),
			OverrideRate:  getEnvInt("ADMIN_OVERRIDE_RATE", 6),
			OverrideBurst: getEnvInt("ADMIN_OVERRIDE_BURST", 3),
		},
	}
}

// Location resolves Store.Timezone, falling back to UTC.
func (c StoreConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
