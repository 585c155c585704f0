package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "PORTFOLIO"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDriver        = DriverSQLite
	defaultDatabasePath  = "portfolio.db"
	defaultLogLevel      = "info"
	defaultLogEncoding   = "json"
	defaultContentDir    = "content/blog"
	defaultAuthor        = "Site Owner"
	defaultCacheTTLHours = 24
	defaultKafkaTopic    = "blog-counters"

	// DriverSQLite stores counters in a local SQLite file.
	DriverSQLite = "sqlite"
	// DriverMySQL stores counters in a MySQL database reached through database.dsn.
	DriverMySQL = "mysql"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	LogLevel       string
	LogEncoding    string
	ContentDir     string
	DefaultAuthor  string
	AllowedOrigins []string
	RedisAddrs     []string
	RedisPassword  string
	CacheTTL       time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("content.dir", defaultContentDir)
	configViper.SetDefault("content.default_author", defaultAuthor)
	configViper.SetDefault("cache.ttl_seconds", int((defaultCacheTTLHours * time.Hour).Seconds()))
	configViper.SetDefault("kafka.topic", defaultKafkaTopic)
}

// LoadDotEnv copies variables from the given .env files into the process environment.
// Missing files are ignored and existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		LogEncoding:    configViper.GetString("log.encoding"),
		ContentDir:     configViper.GetString("content.dir"),
		DefaultAuthor:  configViper.GetString("content.default_author"),
		AllowedOrigins: listValue(configViper, "cors.allowed_origins"),
		RedisAddrs:     listValue(configViper, "redis.addrs"),
		RedisPassword:  configViper.GetString("redis.password"),
		CacheTTL:       time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		KafkaBrokers:   listValue(configViper, "kafka.brokers"),
		KafkaTopic:     strings.TrimSpace(configViper.GetString("kafka.topic")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMySQL:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache.ttl_seconds must not be negative")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}

// listValue accepts both YAML lists and comma separated env values.
func listValue(configViper *viper.Viper, key string) []string {
	var values []string
	for _, raw := range configViper.GetStringSlice(key) {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				values = append(values, trimmed)
			}
		}
	}
	return values
}
