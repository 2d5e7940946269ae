package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	MDKModeLive    = "live"
	MDKModeSandbox = "sandbox"
)

var ErrConfiguration = errors.New("configuration error")

type Config struct {
	ServerPort int

	DBDriver         string
	DBDataSourceName string
	MigrationsDir    string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CatalogCacheTTL time.Duration

	MDKAPIURL      string
	MDKAccessToken string
	MDKMode        string
	MDKRateLimit   float64

	SandboxSettleAfter time.Duration

	ReconcileInterval time.Duration
	ReconcileSecret   string
	ProductPrefix     string
	SuccessURL        string

	VotesAPIURL      string
	PendingStorePath string
}

// LoadConfig reads .env, then environment variables, then the optional YAML
// file named by FEATUREVOTES_CONFIG. Environment wins over the file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: Could not load .env file: %v\n", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("FEATUREVOTES_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
		}
	}

	config := &Config{
		ServerPort:         v.GetInt("PORT"),
		DBDriver:           v.GetString("DB_DRIVER"),
		DBDataSourceName:   v.GetString("DATABASE_URL"),
		MigrationsDir:      v.GetString("MIGRATIONS_DIR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		CatalogCacheTTL:    v.GetDuration("CATALOG_CACHE_TTL"),
		MDKAPIURL:          v.GetString("MDK_API_URL"),
		MDKAccessToken:     v.GetString("MDK_ACCESS_TOKEN"),
		MDKMode:            v.GetString("MDK_MODE"),
		MDKRateLimit:       v.GetFloat64("MDK_RATE_LIMIT"),
		SandboxSettleAfter: v.GetDuration("MDK_SANDBOX_SETTLE_AFTER"),
		ReconcileInterval:  v.GetDuration("RECONCILE_INTERVAL"),
		ReconcileSecret:    v.GetString("RECONCILE_SECRET"),
		ProductPrefix:      v.GetString("FEATURE_PRODUCT_PREFIX"),
		SuccessURL:         v.GetString("SUCCESS_URL"),
		VotesAPIURL:        v.GetString("VOTES_API_URL"),
		PendingStorePath:   v.GetString("PENDING_STORE_PATH"),
	}

	if config.DBDataSourceName == "" && config.DBDriver == "postgres" {
		config.DBDataSourceName = postgresDSN(v)
	}

	if host := v.GetString("REDIS_HOST"); host != "" {
		config.RedisAddr = fmt.Sprintf("%s:%s", host, v.GetString("REDIS_PORT"))
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8032)
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CATALOG_CACHE_TTL", time.Minute)
	v.SetDefault("MDK_API_URL", "https://api.moneydevkit.com/api")
	v.SetDefault("MDK_MODE", MDKModeLive)
	v.SetDefault("MDK_RATE_LIMIT", 10.0)
	v.SetDefault("MDK_SANDBOX_SETTLE_AFTER", 5*time.Second)
	v.SetDefault("RECONCILE_INTERVAL", 10*time.Minute)
	v.SetDefault("FEATURE_PRODUCT_PREFIX", "Feature:")
	v.SetDefault("SUCCESS_URL", "/roadmap")
	v.SetDefault("VOTES_API_URL", "http://localhost:8032")
	v.SetDefault("PENDING_STORE_PATH", "pending_checkouts.db")
}

// postgresDSN composes a DSN from discrete settings when DATABASE_URL is not
// given. It returns "" unless a host is configured.
func postgresDSN(v *viper.Viper) string {
	host := v.GetString("FEATUREVOTES_DB_HOST")
	if host == "" {
		return ""
	}
	port := getOrDefault(v, "FEATUREVOTES_DB_PORT", "5432")
	name := getOrDefault(v, "FEATUREVOTES_DB_DATABASE", "featurevotes")
	user := getOrDefault(v, "FEATUREVOTES_DB_USERNAME", "postgres")
	password := v.GetString("FEATUREVOTES_DB_PASSWORD")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, name)
}

func getOrDefault(v *viper.Viper, key, defaultValue string) string {
	if value := v.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks what the API server needs before it may serve traffic.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 {
		return fmt.Errorf("%w: PORT must be positive", ErrConfiguration)
	}
	switch c.DBDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("%w: unsupported DB_DRIVER %q", ErrConfiguration, c.DBDriver)
	}
	if c.DBDataSourceName == "" {
		return fmt.Errorf("%w: DATABASE_URL is not configured", ErrConfiguration)
	}
	switch c.MDKMode {
	case MDKModeSandbox:
	case MDKModeLive:
		if c.MDKAccessToken == "" {
			return fmt.Errorf("%w: MDK_ACCESS_TOKEN is not configured", ErrConfiguration)
		}
		if c.MDKAPIURL == "" {
			return fmt.Errorf("%w: MDK_API_URL is not configured", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unsupported MDK_MODE %q", ErrConfiguration, c.MDKMode)
	}
	if c.MDKRateLimit <= 0 {
		return fmt.Errorf("%w: MDK_RATE_LIMIT must be positive", ErrConfiguration)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("%w: RECONCILE_INTERVAL must not be negative", ErrConfiguration)
	}
	return nil
}
