package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the proxy's full configuration tree.
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Auth     AuthConfig               `mapstructure:"auth"`
	Session  SessionConfig            `mapstructure:"session"`
	Backends map[string]BackendConfig `mapstructure:"backends"`
	Commands CommandConfig            `mapstructure:"commands"`
	Capture  CaptureConfig            `mapstructure:"capture"`
	Database DatabaseConfig           `mapstructure:"database"`
	Log      LogConfig                `mapstructure:"log"`

	// DefaultBackend serves requests with no session override and no
	// backend: prefix on the model.
	DefaultBackend string `mapstructure:"default_backend"`

	// ReasoningModesFile points at the yaml alias table the mode commands
	// (max, medium, low, no-think) match models against.
	ReasoningModesFile string `mapstructure:"reasoning_modes_file"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// AuthConfig controls inbound client authentication.
type AuthConfig struct {
	APIKeys     []string `mapstructure:"api_keys"`
	DisableAuth bool     `mapstructure:"disable_auth"`
}

// SessionConfig controls the session store.
type SessionConfig struct {
	// Store selects the backing store: "memory" or "database".
	Store string `mapstructure:"store"`
	// TTL evicts idle sessions; zero keeps sessions forever.
	TTL time.Duration `mapstructure:"ttl"`
	// ForceSetProject rejects forwarded requests until the session has a
	// project name set.
	ForceSetProject bool `mapstructure:"force_set_project"`
	// DefaultSessionID names the session used when the client sends no
	// X-Session-ID header.
	DefaultSessionID string `mapstructure:"default_session_id"`
}

// BackendConfig describes one upstream provider.
type BackendConfig struct {
	// Type selects the connector: openai, gemini, anthropic, gemini-cli,
	// qwen-cli, gemini-oauth. Defaults to the backend's map key.
	Type    string   `mapstructure:"type"`
	BaseURL string   `mapstructure:"base_url"`
	APIKey  string   `mapstructure:"api_key"`
	APIKeys []string `mapstructure:"api_keys"`
	// Models seeds the model list for connectors without a discovery
	// endpoint; discovery-capable connectors replace it at initialize.
	Models []string `mapstructure:"models"`

	// Subprocess connectors.
	Command    string        `mapstructure:"command"`
	WorkingDir string        `mapstructure:"working_dir"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// OAuth connectors.
	CredentialsFile string `mapstructure:"credentials_file"`

	// ExtraHeaders is sent on every upstream request.
	ExtraHeaders map[string]string `mapstructure:"extra_headers"`
}

// CommandConfig controls the inline command system.
type CommandConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// CaptureConfig controls the wire-capture sink.
type CaptureConfig struct {
	File          string        `mapstructure:"file"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxBytes      int64         `mapstructure:"max_bytes"`
	MaxFiles      int           `mapstructure:"max_files"`
}

// DatabaseConfig configures the optional durable session store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures application logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
	// File routes logs to a size-rotated file instead of stdout when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads the layered configuration. Precedence, low to high: defaults,
// ~/.llmproxy/config.yaml, ./config.yaml, LLMPROXY_* environment variables.
// A .env file in the working directory is loaded first so *_API_KEY
// variables are visible to both key-pool filling and secret discovery.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	// Project-local overlay.
	if _, err := os.Stat("config.yaml"); err == nil {
		local := viper.New()
		local.SetConfigFile("config.yaml")
		if err := local.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(local.AllSettings())
		}
	}

	v.SetEnvPrefix("LLMPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvKeys(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "local")

	v.SetDefault("auth.disable_auth", false)

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.ttl", "0s")
	v.SetDefault("session.force_set_project", false)
	v.SetDefault("session.default_session_id", "default")

	v.SetDefault("commands.prefix", "!/")

	v.SetDefault("capture.buffer_size", 64)
	v.SetDefault("capture.flush_interval", "5s")
	v.SetDefault("capture.max_bytes", 50*1024*1024)
	v.SetDefault("capture.max_files", 5)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "llmproxy.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)

	v.SetDefault("reasoning_modes_file", filepath.Join(HomeDir(), "reasoning_modes.yaml"))
}

// applyEnvKeys fills each backend's key pool from the conventional
// environment variables when the config file left it empty:
// <NAME>_API_KEY, <NAME>_API_KEYS (comma separated), <NAME>_API_KEY_<n>.
func applyEnvKeys(cfg *Config) {
	for name, bc := range cfg.Backends {
		if bc.APIKey != "" || len(bc.APIKeys) > 0 {
			continue
		}
		bc.APIKeys = envKeyPool(name)
		cfg.Backends[name] = bc
	}
}

func envKeyPool(backend string) []string {
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(backend))
	var keys []string
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		keys = append(keys, v)
	}
	if v := os.Getenv(prefix + "_API_KEYS"); v != "" {
		for _, part := range strings.FieldsFunc(v, func(c rune) bool {
			return c == ',' || c == ';' || c == '\n'
		}) {
			if part = strings.TrimSpace(part); part != "" {
				keys = append(keys, part)
			}
		}
	}
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("%s_API_KEY_%d", prefix, i))
		if v == "" {
			break
		}
		keys = append(keys, v)
	}
	return keys
}

// KeyPool returns the backend's ordered API keys, api_key first.
func (b BackendConfig) KeyPool() []string {
	var keys []string
	if b.APIKey != "" {
		keys = append(keys, b.APIKey)
	}
	for _, k := range b.APIKeys {
		if k != "" && k != b.APIKey {
			keys = append(keys, k)
		}
	}
	return keys
}

// ConnectorType returns the connector type, defaulting to the map key.
func (b BackendConfig) ConnectorType(name string) string {
	if b.Type != "" {
		return b.Type
	}
	return name
}
