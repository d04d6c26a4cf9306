package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// ConfigFileEnv names the optional YAML file read before environment overrides.
const ConfigFileEnv = "LAB_SCHEDULER_CONFIG"

// Config captures the settings of the scheduler service.
type Config struct {
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Timezone        string        `yaml:"timezone"`
	JWTSecret       string        `yaml:"jwt_secret"`

	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`

	// Location is Timezone resolved by Load.
	Location *time.Location `yaml:"-"`
}

// StoreConfig selects and configures the event store.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	// SeedFile is a JSON-lines export loaded into the memory store at start.
	SeedFile string `yaml:"seed_file"`
}

// RedisConfig enables the distributed lock and notification fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// RetentionConfig drives the scheduled cleanup job.
type RetentionConfig struct {
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"`
	Enabled  bool   `yaml:"enabled"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		HTTPPort:        8080,
		ShutdownTimeout: 10 * time.Second,
		Timezone:        "Europe/Paris",
		Store: StoreConfig{
			Driver:        StoreSQLite,
			SQLitePath:    "labscheduler.db",
			MongoDatabase: "labscheduler",
		},
		Retention: RetentionConfig{Days: 90, Schedule: "@daily", Enabled: true},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env, then the YAML file named by LAB_SCHEDULER_CONFIG, then
// LAB_SCHEDULER_* environment variables. Missing and invalid keys are
// reported together.
func Load() (Config, error) {
	return load(true)
}

// LoadMaintenance is Load for offline tools that never verify tokens, so the
// JWT secret is optional.
func LoadMaintenance() (Config, error) {
	return load(false)
}

func load(requireSecret bool) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	invalid := cfg.applyEnv()
	missing, more := cfg.validate(requireSecret)
	invalid = append(invalid, more...)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() []string {
	var invalid []string

	setString := func(key string, dst *string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*dst = value
		}
	}
	setInt := func(key string, dst *int, floor int) {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < floor {
			invalid = append(invalid, key)
			return
		}
		*dst = n
	}

	setInt("LAB_SCHEDULER_HTTP_PORT", &c.HTTPPort, 1)
	setString("LAB_SCHEDULER_TIMEZONE", &c.Timezone)
	setString("LAB_SCHEDULER_JWT_SECRET", &c.JWTSecret)

	setString("LAB_SCHEDULER_STORE", &c.Store.Driver)
	setString("LAB_SCHEDULER_SQLITE_PATH", &c.Store.SQLitePath)
	setString("LAB_SCHEDULER_POSTGRES_DSN", &c.Store.PostgresDSN)
	setString("LAB_SCHEDULER_MONGO_URI", &c.Store.MongoURI)
	setString("LAB_SCHEDULER_MONGO_DATABASE", &c.Store.MongoDatabase)
	setString("LAB_SCHEDULER_SEED_FILE", &c.Store.SeedFile)

	setString("LAB_SCHEDULER_REDIS_ADDR", &c.Redis.Addr)
	setString("LAB_SCHEDULER_REDIS_PASSWORD", &c.Redis.Password)
	setInt("LAB_SCHEDULER_REDIS_DB", &c.Redis.DB, 0)

	setInt("LAB_SCHEDULER_RETENTION_DAYS", &c.Retention.Days, 1)
	setString("LAB_SCHEDULER_RETENTION_SCHEDULE", &c.Retention.Schedule)
	if value := strings.TrimSpace(os.Getenv("LAB_SCHEDULER_RETENTION_ENABLED")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			invalid = append(invalid, "LAB_SCHEDULER_RETENTION_ENABLED")
		} else {
			c.Retention.Enabled = enabled
		}
	}

	setString("LAB_SCHEDULER_LOG_LEVEL", &c.Log.Level)
	setString("LAB_SCHEDULER_LOG_FORMAT", &c.Log.Format)

	if value := strings.TrimSpace(os.Getenv("LAB_SCHEDULER_SHUTDOWN_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, "LAB_SCHEDULER_SHUTDOWN_TIMEOUT")
		} else {
			c.ShutdownTimeout = timeout
		}
	}
	return invalid
}

func (c *Config) validate(requireSecret bool) (missing, invalid []string) {
	if requireSecret && c.JWTSecret == "" {
		missing = append(missing, "LAB_SCHEDULER_JWT_SECRET")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			missing = append(missing, "LAB_SCHEDULER_SQLITE_PATH")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			missing = append(missing, "LAB_SCHEDULER_POSTGRES_DSN")
		}
	case StoreMongo:
		if c.Store.MongoURI == "" {
			missing = append(missing, "LAB_SCHEDULER_MONGO_URI")
		}
	default:
		invalid = append(invalid, "LAB_SCHEDULER_STORE")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		invalid = append(invalid, "LAB_SCHEDULER_TIMEZONE")
	} else {
		c.Location = loc
	}

	if c.HTTPPort <= 0 {
		invalid = append(invalid, "LAB_SCHEDULER_HTTP_PORT")
	}
	if c.Retention.Days <= 0 {
		invalid = append(invalid, "LAB_SCHEDULER_RETENTION_DAYS")
	}
	if c.Retention.Enabled {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			invalid = append(invalid, "LAB_SCHEDULER_RETENTION_SCHEDULE")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, "LAB_SCHEDULER_LOG_LEVEL")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		invalid = append(invalid, "LAB_SCHEDULER_LOG_FORMAT")
	}
	return missing, invalid
}
