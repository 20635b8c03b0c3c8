package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-dev/localstore/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Backend != DefaultBackend {
		t.Errorf("Backend = %q, want %q", cfg.Backend, DefaultBackend)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, DefaultHost)
	}
	if cfg.TimeoutDuration() != 5*time.Second {
		t.Errorf("TimeoutDuration() = %v, want 5s", cfg.TimeoutDuration())
	}
	if cfg.SQL.Driver != "sqlite" || cfg.SQL.DSN != "localstore.db" {
		t.Errorf("SQL = %+v", cfg.SQL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoad(t *testing.T) {
	// Integration runs set this for the storage tests
	unsetEnv(t, "LOCALSTORE_REDIS_ADDR")
	tmpDir := t.TempDir()

	// Test loading non-existent config
	_, err := Load(tmpDir)
	if errors.Code(err) != "E141" {
		t.Errorf("missing config error = %v, want E141", err)
	}

	configPath := filepath.Join(tmpDir, ConfigFileName)
	configJSON := `{
  "backend": "redis",
  "timeout": "2s",
  "redis": {
    "addr": "redis:6379",
    "db": 2,
    "prefix": "prefs:"
  },
  "server": {
    "port": 8080
  }
}
`
	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Backend != BackendRedis {
		t.Errorf("Backend = %q, want redis", cfg.Backend)
	}
	if cfg.TimeoutDuration() != 2*time.Second {
		t.Errorf("TimeoutDuration() = %v, want 2s", cfg.TimeoutDuration())
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 || cfg.Redis.Prefix != "prefs:" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	// Defaults fill what the file leaves out
	if cfg.Redis.Channel != "localstore:changes" {
		t.Errorf("Redis.Channel = %q", cfg.Redis.Channel)
	}
	if cfg.ServerAddress() != "localhost:8080" {
		t.Errorf("ServerAddress() = %q", cfg.ServerAddress())
	}
	if cfg.Path() != configPath {
		t.Errorf("Path() = %q, want %q", cfg.Path(), configPath)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)
	os.WriteFile(configPath, []byte("{ invalid json }"), 0644)

	_, err := Load(tmpDir)
	if errors.Code(err) != "E120" {
		t.Errorf("error = %v, want E120", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)
	os.WriteFile(configPath, []byte(`{"backend": "memory", "server": {"port": 9000}}`), 0644)

	t.Setenv("LOCALSTORE_BACKEND", "nats")
	t.Setenv("LOCALSTORE_NATS_URL", "nats://queue:4222")
	t.Setenv("LOCALSTORE_SERVER_PORT", "9100")
	t.Setenv("LOCALSTORE_METRICS_ENABLED", "true")

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Backend != BackendNATS {
		t.Errorf("Backend = %q, want nats", cfg.Backend)
	}
	if cfg.NATS.URL != "nats://queue:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be true")
	}
	// Untouched by env
	if cfg.NATS.Bucket != "localstore" {
		t.Errorf("NATS.Bucket = %q", cfg.NATS.Bucket)
	}
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("LOCALSTORE_SERVER_PORT", "not-a-port")

	_, err := FromEnv()
	if errors.Code(err) != "E122" {
		t.Errorf("error = %v, want E122", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOCALSTORE_BACKEND", "s3")
	t.Setenv("LOCALSTORE_S3_BUCKET", "prefs")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Backend != BackendS3 || cfg.S3.Bucket != "prefs" || cfg.S3.Prefix != "localstore/" {
		t.Errorf("cfg = %+v", cfg.S3)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		wantCode string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "etcd" }, "E121"},
		{"s3 without bucket", func(c *Config) { c.Backend = BackendS3 }, "E122"},
		{"bad timeout", func(c *Config) { c.Timeout = "soon" }, "E122"},
		{"negative timeout", func(c *Config) { c.Timeout = "-1s" }, "E122"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "E122"},
		{"negative redis db", func(c *Config) { c.Redis.DB = -1 }, "E122"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if got := errors.Code(err); got != tt.wantCode {
				t.Errorf("Validate() code = %q, want %q (err %v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	cfg := New()
	if err := cfg.Save(); err == nil {
		t.Error("Save without a path should fail")
	}

	cfg.Backend = BackendSQL
	cfg.SQL.DSN = "prefs.db"
	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	if !Exists(tmpDir) {
		t.Fatal("config file should exist")
	}

	loaded, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Backend != BackendSQL || loaded.SQL.DSN != "prefs.db" {
		t.Errorf("loaded = %+v", loaded)
	}

	loaded.Server.Port = 9999
	if err := loaded.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, _ := Load(tmpDir)
	if again.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", again.Server.Port)
	}
}

func TestTimeoutDurationFallback(t *testing.T) {
	cfg := New()
	cfg.Timeout = "garbage"
	if cfg.TimeoutDuration() != 5*time.Second {
		t.Errorf("TimeoutDuration() = %v, want 5s", cfg.TimeoutDuration())
	}
}
