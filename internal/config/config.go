package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gearbase/internal/domain"
)

// DatabaseConfig holds connection settings for one PostgreSQL database.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN builds a lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// DSNTemplate builds a lib/pq connection string with a %s placeholder for
// the database name, used when allocating per-tenant databases on the
// same cluster.
func (c *DatabaseConfig) DSNTemplate() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.SSLMode)
}

// Config is the gearbase tenant-router service configuration, loaded from
// environment variables.
type Config struct {
	HTTP struct {
		Addr string
	}

	// Registry is the master registry database (shared, single source of
	// truth for tenant metadata).
	Registry DatabaseConfig

	// Pool applies to every per-tenant connection pool opened by the cache.
	Pool struct {
		MaxOpen int
		MaxIdle int
	}

	Cache struct {
		EvictInterval   time.Duration
		MaxIdle         time.Duration
		ConnectTimeout  time.Duration
		ResolveTimeout  time.Duration
		InvalidateGrace time.Duration
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// Storage is the object-storage provider used for tenant media
	// namespaces and backup artifacts.
	Storage struct {
		BaseURL string
		Token   string
	}

	Log struct {
		Level  string
		Format string
	}

	// TierLimits overrides the built-in per-tier default resource limits
	// when TIER_LIMITS_JSON is set.
	TierLimits map[domain.Tier]domain.ResourceLimits
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Registry.Host = getEnv("REGISTRY_DB_HOST", "localhost")
	cfg.Registry.Port = parseInt(getEnv("REGISTRY_DB_PORT", "5432"), 5432)
	cfg.Registry.User = getEnv("REGISTRY_DB_USER", "postgres")
	cfg.Registry.Password = getEnv("REGISTRY_DB_PASSWORD", "postgres")
	cfg.Registry.Database = getEnv("REGISTRY_DB_NAME", "gearbase_registry")
	cfg.Registry.SSLMode = getEnv("REGISTRY_DB_SSLMODE", "disable")

	cfg.Pool.MaxOpen = parseInt(getEnv("TENANT_POOL_MAX_OPEN", "10"), 10)
	cfg.Pool.MaxIdle = parseInt(getEnv("TENANT_POOL_MAX_IDLE", "2"), 2)

	cfg.Cache.EvictInterval = parseDuration(getEnv("CACHE_EVICT_INTERVAL", "1m"), time.Minute)
	cfg.Cache.MaxIdle = parseDuration(getEnv("CACHE_MAX_IDLE", "15m"), 15*time.Minute)
	cfg.Cache.ConnectTimeout = parseDuration(getEnv("CACHE_CONNECT_TIMEOUT", "5s"), 5*time.Second)
	cfg.Cache.ResolveTimeout = parseDuration(getEnv("RESOLVE_TIMEOUT", "3s"), 3*time.Second)
	cfg.Cache.InvalidateGrace = parseDuration(getEnv("CACHE_INVALIDATE_GRACE", "10s"), 10*time.Second)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Storage.BaseURL = getEnv("STORAGE_BASE_URL", "http://localhost:9000")
	cfg.Storage.Token = getEnv("STORAGE_TOKEN", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.TierLimits = parseTierLimits(os.Getenv("TIER_LIMITS_JSON"))

	return cfg
}

// LimitsFor returns the default resource limits for a tier, honoring any
// TIER_LIMITS_JSON override.
func (c *Config) LimitsFor(t domain.Tier) domain.ResourceLimits {
	if l, ok := c.TierLimits[t]; ok {
		return l
	}
	return domain.DefaultLimits(t)
}

func parseTierLimits(raw string) map[domain.Tier]domain.ResourceLimits {
	if raw == "" {
		return nil
	}
	out := map[domain.Tier]domain.ResourceLimits{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
