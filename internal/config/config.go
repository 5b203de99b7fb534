package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leafsii/redisdb/pkg/kv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	ModeLive       = "live"
	ModeCheckpoint = "checkpoint"
)

type Config struct {
	Env      string `mapstructure:"RDB_ENV"`
	LogLevel string `mapstructure:"RDB_LOG_LEVEL"`
	HTTPAddr string `mapstructure:"RDB_HTTP_ADDR"`

	Remote   RemoteConfig   `mapstructure:",squash"`
	Sync     SyncConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type RemoteConfig struct {
	Backend             string        `mapstructure:"RDB_BACKEND"`
	RedisHost           string        `mapstructure:"REDISHOST"`
	RedisPort           string        `mapstructure:"REDISPORT"`
	RedisPassword       string        `mapstructure:"REDISPASSWORD"`
	RedisClientName     string        `mapstructure:"REDISCLIENTNAME"`
	RedisDB             int           `mapstructure:"REDISDB"`
	HealthCheckInterval time.Duration `mapstructure:"RDB_HEALTH_CHECK_INTERVAL"`
	PostgresDSN         string        `mapstructure:"RDB_POSTGRES_DSN"`

	// Presence of the Redis variables, recorded before unmarshalling since an
	// empty password is valid but an unset one is not.
	missing []string
}

type SyncConfig struct {
	Namespace  string `mapstructure:"RDB_NAMESPACE"`
	Key        string `mapstructure:"RDB_KEY"`
	Mode       string `mapstructure:"RDB_MODE"` // "live", "checkpoint"
	DontSave   bool   `mapstructure:"RDB_DONT_SAVE"`
	BackupPath string `mapstructure:"RDB_BACKUP_PATH"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"RDB_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"RDB_CORS_ALLOWED_ORIGINS"`
}

var requiredRedisVars = []string{"REDISHOST", "REDISPORT", "REDISPASSWORD"}

var optionalVars = []string{
	"RDB_LOG_LEVEL",
	"REDISHOST",
	"REDISPORT",
	"REDISPASSWORD",
	"REDISCLIENTNAME",
	"RDB_KEY",
}

// flagKeys maps command-line flag names to the variables they override.
var flagKeys = map[string]string{
	"env":       "RDB_ENV",
	"log-level": "RDB_LOG_LEVEL",
	"addr":      "RDB_HTTP_ADDR",
	"backend":   "RDB_BACKEND",
	"namespace": "RDB_NAMESPACE",
	"key":       "RDB_KEY",
	"mode":      "RDB_MODE",
	"dont-save": "RDB_DONT_SAVE",
	"backup":    "RDB_BACKUP_PATH",
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // variables already set take precedence
		}
	}
}

// Load reads the environment (after .env files) and applies any changed
// flags in flagSets that have a known name.
func Load(flagSets ...*pflag.FlagSet) (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	for _, key := range optionalVars {
		_ = v.BindEnv(key)
	}
	for _, fs := range flagSets {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetDefault("RDB_ENV", "dev")
	v.SetDefault("RDB_HTTP_ADDR", ":8080")
	v.SetDefault("RDB_BACKEND", string(kv.BackendRedis))
	v.SetDefault("REDISDB", 0)
	v.SetDefault("RDB_HEALTH_CHECK_INTERVAL", "1000s")
	v.SetDefault("RDB_POSTGRES_DSN", "")
	v.SetDefault("RDB_NAMESPACE", "main")
	v.SetDefault("RDB_MODE", ModeLive)
	v.SetDefault("RDB_DONT_SAVE", false)
	v.SetDefault("RDB_BACKUP_PATH", "backup.json")
	v.SetDefault("RDB_RATE_LIMIT_RPM", 120)
	v.SetDefault("RDB_CORS_ALLOWED_ORIGINS", "http://localhost:3000")

	if origins := v.GetString("RDB_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("RDB_CORS_ALLOWED_ORIGINS", strings.Split(origins, ","))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, key := range requiredRedisVars {
		if _, ok := os.LookupEnv(key); !ok {
			cfg.Remote.missing = append(cfg.Remote.missing, key)
		}
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.Remote.Backend = strings.ToLower(strings.TrimSpace(c.Remote.Backend))
	c.Sync.Mode = strings.ToLower(strings.TrimSpace(c.Sync.Mode))
	if c.Sync.Key == "" {
		c.Sync.Key = c.Sync.Namespace
	}
	for i, origin := range c.Security.CORSAllowedOrigins {
		c.Security.CORSAllowedOrigins[i] = strings.TrimSpace(origin)
	}
}

func (c *Config) validate() error {
	switch kv.Backend(c.Remote.Backend) {
	case kv.BackendRedis:
		if len(c.Remote.missing) > 0 {
			return fmt.Errorf("%s must be set for the redis backend", strings.Join(c.Remote.missing, ", "))
		}
	case kv.BackendPostgres:
		if c.Remote.PostgresDSN == "" {
			return fmt.Errorf("RDB_POSTGRES_DSN is required for the postgres backend")
		}
	case kv.BackendMemory:
	default:
		return fmt.Errorf("invalid RDB_BACKEND %q (must be redis, postgres, or memory)", c.Remote.Backend)
	}

	switch c.Sync.Mode {
	case ModeLive, ModeCheckpoint:
	default:
		return fmt.Errorf("invalid RDB_MODE %q (must be live or checkpoint)", c.Sync.Mode)
	}

	if c.Sync.Namespace == "" {
		return fmt.Errorf("RDB_NAMESPACE is required")
	}
	if c.Remote.HealthCheckInterval < 0 {
		return fmt.Errorf("RDB_HEALTH_CHECK_INTERVAL must not be negative")
	}
	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("RDB_RATE_LIMIT_RPM must not be negative")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// RedisAddr joins REDISHOST and REDISPORT.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Remote.RedisHost, c.Remote.RedisPort)
}

// KVConfig translates the remote settings into a kv.Config.
func (c *Config) KVConfig(logger kv.LogFunc) kv.Config {
	return kv.Config{
		Backend:             kv.Backend(c.Remote.Backend),
		RedisAddr:           c.RedisAddr(),
		RedisPassword:       c.Remote.RedisPassword,
		RedisDB:             c.Remote.RedisDB,
		ClientName:          c.Remote.RedisClientName,
		HealthCheckInterval: c.Remote.HealthCheckInterval,
		PostgresDSN:         c.Remote.PostgresDSN,
		Logger:              logger,
	}
}
