package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var managedKeys = []string{
	ConfigFileEnv,
	"LAB_SCHEDULER_HTTP_PORT",
	"LAB_SCHEDULER_TIMEZONE",
	"LAB_SCHEDULER_JWT_SECRET",
	"LAB_SCHEDULER_STORE",
	"LAB_SCHEDULER_SQLITE_PATH",
	"LAB_SCHEDULER_POSTGRES_DSN",
	"LAB_SCHEDULER_MONGO_URI",
	"LAB_SCHEDULER_MONGO_DATABASE",
	"LAB_SCHEDULER_SEED_FILE",
	"LAB_SCHEDULER_REDIS_ADDR",
	"LAB_SCHEDULER_REDIS_PASSWORD",
	"LAB_SCHEDULER_REDIS_DB",
	"LAB_SCHEDULER_RETENTION_DAYS",
	"LAB_SCHEDULER_RETENTION_SCHEDULE",
	"LAB_SCHEDULER_RETENTION_ENABLED",
	"LAB_SCHEDULER_LOG_LEVEL",
	"LAB_SCHEDULER_LOG_FORMAT",
	"LAB_SCHEDULER_SHUTDOWN_TIMEOUT",
}

// clearEnv blanks every key Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range managedKeys {
		t.Setenv(key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		const secret = "super-secret"
		t.Setenv("LAB_SCHEDULER_JWT_SECRET", secret)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.Store.Driver != StoreSQLite || cfg.Store.SQLitePath != "labscheduler.db" {
			t.Fatalf("unexpected default store: %+v", cfg.Store)
		}
		if cfg.Retention.Days != 90 || cfg.Retention.Schedule != "@daily" {
			t.Fatalf("unexpected default retention: %+v", cfg.Retention)
		}
		if cfg.Location == nil || cfg.Location.String() != "Europe/Paris" {
			t.Fatalf("expected Europe/Paris location, got %v", cfg.Location)
		}
		if cfg.JWTSecret != secret {
			t.Fatalf("expected jwt secret to be %q, got %q", secret, cfg.JWTSecret)
		}
		if cfg.Redis.Enabled() {
			t.Fatalf("expected redis to be disabled by default")
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LAB_SCHEDULER_STORE", StorePostgres)

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "missing required configuration: LAB_SCHEDULER_JWT_SECRET, LAB_SCHEDULER_POSTGRES_DSN"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LAB_SCHEDULER_JWT_SECRET", "secret")
		t.Setenv("LAB_SCHEDULER_HTTP_PORT", "eighty")
		t.Setenv("LAB_SCHEDULER_TIMEZONE", "Mars/Olympus")
		t.Setenv("LAB_SCHEDULER_RETENTION_SCHEDULE", "every tuesday")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"LAB_SCHEDULER_HTTP_PORT", "LAB_SCHEDULER_TIMEZONE", "LAB_SCHEDULER_RETENTION_SCHEDULE"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in %q", key, err.Error())
			}
		}
	})

	t.Run("parses numeric, duration and boolean fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("LAB_SCHEDULER_JWT_SECRET", "secret")
		t.Setenv("LAB_SCHEDULER_HTTP_PORT", "9090")
		t.Setenv("LAB_SCHEDULER_REDIS_ADDR", "localhost:6379")
		t.Setenv("LAB_SCHEDULER_REDIS_DB", "2")
		t.Setenv("LAB_SCHEDULER_RETENTION_DAYS", "30")
		t.Setenv("LAB_SCHEDULER_RETENTION_ENABLED", "false")
		t.Setenv("LAB_SCHEDULER_SHUTDOWN_TIMEOUT", "3s")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 9090 || cfg.Redis.DB != 2 || cfg.Retention.Days != 30 {
			t.Fatalf("unexpected parsed values: %+v", cfg)
		}
		if cfg.Retention.Enabled {
			t.Fatalf("expected retention job to be disabled")
		}
		if cfg.ShutdownTimeout != 3*time.Second {
			t.Fatalf("expected 3s shutdown timeout, got %s", cfg.ShutdownTimeout)
		}
	})
}

func TestLoader_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "labscheduler.yaml")
	content := `
http_port: 7070
jwt_secret: from-file
store:
  driver: mongo
  mongo_uri: mongodb://localhost:27017
retention:
  days: 45
  schedule: "0 3 * * *"
  enabled: true
log:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("LAB_SCHEDULER_HTTP_PORT", "7171")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPPort != 7171 {
		t.Fatalf("expected environment to override the file, got %d", cfg.HTTPPort)
	}
	if cfg.JWTSecret != "from-file" || cfg.Store.Driver != StoreMongo || cfg.Store.MongoDatabase != "labscheduler" {
		t.Fatalf("unexpected values from file: %+v", cfg)
	}
	if cfg.Retention.Days != 45 || cfg.Log.Format != "text" {
		t.Fatalf("unexpected nested values: %+v %+v", cfg.Retention, cfg.Log)
	}
}

func TestLoader_YAMLRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "labscheduler.yaml")
	if err := os.WriteFile(path, []byte("jwt_secret: x\nsession_ttl: 1h\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestLoadMaintenanceSkipsSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("LAB_SCHEDULER_STORE", StoreMemory)

	cfg, err := LoadMaintenance()
	if err != nil {
		t.Fatalf("LoadMaintenance returned error: %v", err)
	}
	if cfg.Store.Driver != StoreMemory || cfg.JWTSecret != "" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
