// Package config loads service configuration from defaults, an optional
// YAML file and BUILDFORGE_* environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved service configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Logging   Logging   `mapstructure:"logging"`
	Store     Store     `mapstructure:"store"`
	GitHub    GitHub    `mapstructure:"github"`
	Build     Build     `mapstructure:"build"`
	Monitor   Monitor   `mapstructure:"monitor"`
	Reaper    Reaper    `mapstructure:"reaper"`
	Cleanup   Cleanup   `mapstructure:"cleanup"`
	Artifacts Artifacts `mapstructure:"artifacts"`
	Events    Events    `mapstructure:"events"`
	Webhook   Webhook   `mapstructure:"webhook"`
}

type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Store struct {
	Path string `mapstructure:"path"`
}

type GitHub struct {
	Token             string        `mapstructure:"token"`
	APIBaseURL        string        `mapstructure:"api_base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	ForkGraceDelay    time.Duration `mapstructure:"fork_grace_delay"`
}

type Build struct {
	WorkflowPath string `mapstructure:"workflow_path"`
	TeamID       string `mapstructure:"team_id"`
	CallbackURL  string `mapstructure:"callback_url"`
}

type Monitor struct {
	Interval  time.Duration `mapstructure:"interval"`
	MaxChecks int           `mapstructure:"max_checks"`
}

type Reaper struct {
	Interval     time.Duration `mapstructure:"interval"`
	AbandonAfter time.Duration `mapstructure:"abandon_after"`
}

type Cleanup struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type Artifacts struct {
	Backend string      `mapstructure:"backend"`
	Dir     string      `mapstructure:"dir"`
	S3      S3Artifacts `mapstructure:"s3"`
}

type S3Artifacts struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type Events struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisEvents `mapstructure:"redis"`
}

type RedisEvents struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Webhook struct {
	// Secret enables completion-callback authentication when non-empty.
	Secret string `mapstructure:"secret"`
}

// Load resolves configuration. path optionally names a YAML config file;
// when empty only defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BUILDFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// The provider token commonly arrives via the conventional variable
	// rather than the prefixed one.
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITHUB_API_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Artifacts.Backend {
	case "file", "s3":
	default:
		return fmt.Errorf("artifacts.backend must be file or s3, got %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "s3" && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifacts.s3.bucket is required for the s3 backend")
	}
	switch c.Events.Backend {
	case "none", "redis":
	default:
		return fmt.Errorf("events.backend must be none or redis, got %q", c.Events.Backend)
	}
	if c.Events.Backend == "redis" && c.Events.Redis.Addr == "" {
		return fmt.Errorf("events.redis.addr is required for the redis backend")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".buildforge")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.path", filepath.Join(dataDir, "jobs.db"))

	v.SetDefault("github.api_base_url", "https://api.github.com")
	v.SetDefault("github.requests_per_second", 5.0)
	v.SetDefault("github.fork_grace_delay", "10s")

	v.SetDefault("build.workflow_path", ".github/workflows/build.yml")

	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.max_checks", 60)

	v.SetDefault("reaper.interval", "5m")
	v.SetDefault("reaper.abandon_after", "30m")

	v.SetDefault("cleanup.max_attempts", 3)
	v.SetDefault("cleanup.backoff", "2s")

	v.SetDefault("artifacts.backend", "file")
	v.SetDefault("artifacts.dir", filepath.Join(dataDir, "artifacts"))

	v.SetDefault("events.backend", "none")
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.db", 0)

	v.SetDefault("webhook.secret", "")
}
