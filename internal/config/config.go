package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

// Environment variables that override file values.
const (
	EnvConfigPath      = "COURTROOM_CONFIG"
	EnvDBPath          = "COURTROOM_DB_PATH"
	EnvHTTPBind        = "COURTROOM_HTTP_BIND"
	EnvIdempotencyURL  = "COURTROOM_IDEMPOTENCY_URL"
	EnvIdempotencyTTL  = "COURTROOM_IDEMPOTENCY_TTL"
	EnvDevelopmentMode = "COURTROOM_DEV_MODE"
)

type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
	Logging     LoggingConfig     `toml:"logging"`
	Mode        ModeConfig        `toml:"mode"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	HTTPBind          string   `toml:"http_bind"`
	APIEndpoint       string   `toml:"api_endpoint"`
	MCPEndpoint       string   `toml:"mcp_endpoint"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
}

// IdempotencyConfig selects the idempotency backend. URL schemes are
// memory://, sqlite:// (the case database) and redis:// or rediss://.
type IdempotencyConfig struct {
	URL            string   `toml:"url"`
	TTL            Duration `toml:"ttl"`
	BackendTimeout Duration `toml:"backend_timeout"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ModeConfig struct {
	Development bool `toml:"development"`
}

// Duration decodes TOML strings such as "24h" or "500ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Server: ServerConfig{
			HTTPBind:          "127.0.0.1:8080",
			APIEndpoint:       "/api/v1",
			MCPEndpoint:       "/mcp",
			ReadHeaderTimeout: Duration(10 * time.Second),
		},
		Idempotency: IdempotencyConfig{
			URL:            "sqlite://",
			TTL:            Duration(24 * time.Hour),
			BackendTimeout: Duration(500 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".courtroom/log",
			},
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overlays non-empty environment values onto cfg. lookup is
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	get := func(name string) (string, bool) {
		raw, ok := lookup(name)
		raw = strings.TrimSpace(raw)
		return raw, ok && raw != ""
	}

	if v, ok := get(EnvDBPath); ok {
		c.Database.Path = v
	}
	if v, ok := get(EnvHTTPBind); ok {
		c.Server.HTTPBind = v
	}
	if v, ok := get(EnvIdempotencyURL); ok {
		c.Idempotency.URL = v
	}
	if v, ok := get(EnvIdempotencyTTL); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvIdempotencyTTL, err)
		}
		c.Idempotency.TTL = Duration(ttl)
	}
	if v, ok := get(EnvDevelopmentMode); ok {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvDevelopmentMode, err)
		}
		c.Mode.Development = dev
	}
	return c.Validate()
}

func (c Config) Validate() error {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint": c.Server.APIEndpoint,
		"server.mcp_endpoint": c.Server.MCPEndpoint,
	} {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}
	if c.Server.ReadHeaderTimeout < 0 {
		return errors.New("server.read_header_timeout must be >= 0")
	}

	if _, err := c.Idempotency.Backend(); err != nil {
		return err
	}
	if c.Idempotency.TTL <= 0 {
		return errors.New("idempotency.ttl must be > 0")
	}
	if c.Idempotency.BackendTimeout <= 0 {
		return errors.New("idempotency.backend_timeout must be > 0")
	}

	if _, err := charmLog.ParseLevel(strings.TrimSpace(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// Backend returns the scheme of the idempotency URL.
func (c IdempotencyConfig) Backend() (string, error) {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return "", errors.New("idempotency.url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse idempotency.url: %w", err)
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "memory", "sqlite", "redis", "rediss":
		return scheme, nil
	default:
		return "", fmt.Errorf("unsupported idempotency.url scheme: %q", parsed.Scheme)
	}
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
