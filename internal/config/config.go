// Package config loads the client configuration from a YAML file and/or
// environment variables. Value sources, in decreasing priority:
//  1. explicit path via the --config flag;
//  2. path in the CONFIG_PATH environment variable;
//  3. config.yaml in the working directory;
//  4. environment variables alone.
package config

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root client configuration.
type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Refresh RefreshConfig `yaml:"refresh"`
	Routing RoutingConfig `yaml:"routing"`
	Store   StoreConfig   `yaml:"store"`
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url" env:"API_BASE_URL" env-required:"true"`
	RedirectURI string        `yaml:"redirect_uri" env:"OAUTH_REDIRECT_URI" env-default:"http://localhost:3000/oauth/callback"`
	Timeout     time.Duration `yaml:"timeout" env:"API_TIMEOUT" env-default:"15s"`
}

// AuthConfig holds token validation parameters. JWTSecret is only needed
// in production, where IsTokenValid verifies signatures locally.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// RefreshConfig tunes the proactive refresh scheduler.
type RefreshConfig struct {
	Lead        time.Duration `yaml:"lead" env:"REFRESH_LEAD" env-default:"60s"`
	FocusWindow time.Duration `yaml:"focus_window" env:"REFRESH_FOCUS_WINDOW" env-default:"5m"`
	MaxRetries  int           `yaml:"max_retries" env:"REFRESH_MAX_RETRIES" env-default:"3"`
	RetryBase   time.Duration `yaml:"retry_base" env:"REFRESH_RETRY_BASE" env-default:"30s"`
	RetryCap    time.Duration `yaml:"retry_cap" env:"REFRESH_RETRY_CAP" env-default:"120s"`
}

// RoutingConfig tunes post-auth route resolution.
type RoutingConfig struct {
	FirstSettle time.Duration `yaml:"first_settle" env:"ROUTING_FIRST_SETTLE" env-default:"1s"`
	RetrySettle time.Duration `yaml:"retry_settle" env:"ROUTING_RETRY_SETTLE" env-default:"300ms"`
	JobsTimeout time.Duration `yaml:"jobs_timeout" env:"ROUTING_JOBS_TIMEOUT" env-default:"8s"`
	MaxRetries  int           `yaml:"max_retries" env:"ROUTING_MAX_RETRIES" env-default:"2"`
}

// StoreConfig locates the on-disk token store.
type StoreConfig struct {
	Path   string `yaml:"path" env:"TOKEN_STORE_PATH"`
	Secret string `yaml:"secret" env:"TOKEN_STORE_SECRET"`
}

// MustLoad loads the configuration or exits.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Load resolves the config path and reads the configuration.
func Load() (*Config, error) {
	path := fetchConfigPath()

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	return &cfg, nil
}

var (
	flagOnce sync.Once
	flagPath string
)

func fetchConfigPath() string {
	flagOnce.Do(func() {
		flag.StringVar(&flagPath, "config", "", "path to config file")
		flag.Parse()
	})
	if flagPath == "" {
		return os.Getenv("CONFIG_PATH")
	}
	return flagPath
}
