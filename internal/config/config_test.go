package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/courtroom.db")
	if cfg.Database.Path != "/tmp/courtroom.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Server.APIEndpoint != "/api/v1" || cfg.Server.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected endpoints %q %q", cfg.Server.APIEndpoint, cfg.Server.MCPEndpoint)
	}
	if cfg.Idempotency.TTL.Std() != 24*time.Hour {
		t.Fatalf("unexpected idempotency ttl %v", cfg.Idempotency.TTL.Std())
	}
	if backend, err := cfg.Idempotency.Backend(); err != nil || backend != "sqlite" {
		t.Fatalf("Backend() = %q, %v, want sqlite", backend, err)
	}
	if cfg.Mode.Development {
		t.Fatal("expected development mode off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/courtroom.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != defaults.Database.Path {
		t.Fatalf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[database]
path = "/custom/courtroom.db"

[server]
http_bind = "0.0.0.0:9090"
read_header_timeout = "3s"

[idempotency]
url = "redis://localhost:6379/2"
ttl = "2h"
backend_timeout = "250ms"

[logging]
level = "debug"

[logging.dev_file]
enabled = false

[mode]
development = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/custom/courtroom.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Server.HTTPBind != "0.0.0.0:9090" {
		t.Fatalf("unexpected http bind %q", cfg.Server.HTTPBind)
	}
	if cfg.Server.APIEndpoint != "/api/v1" {
		t.Fatalf("expected default api endpoint kept, got %q", cfg.Server.APIEndpoint)
	}
	if cfg.Server.ReadHeaderTimeout.Std() != 3*time.Second {
		t.Fatalf("unexpected read header timeout %v", cfg.Server.ReadHeaderTimeout.Std())
	}
	if backend, _ := cfg.Idempotency.Backend(); backend != "redis" {
		t.Fatalf("unexpected idempotency backend %q", backend)
	}
	if cfg.Idempotency.TTL.Std() != 2*time.Hour || cfg.Idempotency.BackendTimeout.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected idempotency timings %v %v", cfg.Idempotency.TTL.Std(), cfg.Idempotency.BackendTimeout.Std())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.DevFile.Enabled {
		t.Fatalf("unexpected logging config %#v", cfg.Logging)
	}
	if cfg.Logging.DevFile.Dir != ".courtroom/log" {
		t.Fatalf("expected default dev log dir kept, got %q", cfg.Logging.DevFile.Dir)
	}
	if !cfg.Mode.Development {
		t.Fatal("expected development mode from config override")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad scheme":   "[idempotency]\nurl = \"memcached://localhost\"\n",
		"zero ttl":     "[idempotency]\nttl = \"0s\"\n",
		"bad duration": "[idempotency]\nttl = \"soon\"\n",
		"bad level":    "[logging]\nlevel = \"loud\"\n",
		"relative api": "[server]\napi_endpoint = \"api\"\n",
		"empty bind":   "[server]\nhttp_bind = \" \"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := Load(path, Default("/tmp/default.db")); err == nil {
				t.Fatalf("Load() error = nil, want error for %s", name)
			}
		})
	}
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	env := map[string]string{
		EnvDBPath:          "/env/courtroom.db",
		EnvHTTPBind:        ":7070",
		EnvIdempotencyURL:  "memory://",
		EnvIdempotencyTTL:  "90m",
		EnvDevelopmentMode: "true",
	}
	cfg := Default("/tmp/default.db")
	if err := cfg.ApplyEnv(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Database.Path != "/env/courtroom.db" || cfg.Server.HTTPBind != ":7070" {
		t.Fatalf("unexpected overrides %q %q", cfg.Database.Path, cfg.Server.HTTPBind)
	}
	if backend, _ := cfg.Idempotency.Backend(); backend != "memory" {
		t.Fatalf("unexpected backend %q", backend)
	}
	if cfg.Idempotency.TTL.Std() != 90*time.Minute {
		t.Fatalf("unexpected ttl %v", cfg.Idempotency.TTL.Std())
	}
	if !cfg.Mode.Development {
		t.Fatal("expected development mode from env")
	}
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	for name, value := range map[string]string{
		EnvIdempotencyTTL:  "forever",
		EnvDevelopmentMode: "sometimes",
	} {
		cfg := Default("/tmp/default.db")
		err := cfg.ApplyEnv(func(key string) (string, bool) {
			if key == name {
				return value, true
			}
			return "", false
		})
		if err == nil || !strings.Contains(err.Error(), name) {
			t.Fatalf("ApplyEnv(%s=%q) error = %v, want error naming the variable", name, value, err)
		}
	}
}

func TestEnsureConfigDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "config.toml")
	if err := EnsureConfigDir(target); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(target)); err != nil {
		t.Fatalf("expected dir to exist, stat error %v", err)
	}
}
