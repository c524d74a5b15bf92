package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/nyxhq/ravel/internal/core/domain"
)

const (
	DefaultListen        = ":8080"
	DefaultMetricsListen = ":9090"

	DefaultFileWriteDelay = 150 * time.Millisecond // lets a slow writer finish before we re-read
	reloadDebounce        = 500 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, used as the
// base that file and environment values are unmarshalled on top of.
func DefaultConfig() *Config {
	return &Config{
		Listen:        DefaultListen,
		MetricsListen: DefaultMetricsListen,
		Upstreams: []UpstreamConfig{
			{Host: "127.0.0.1", Port: "8081"},
		},
		Timeouts: TimeoutsConfig{
			ConnectMs: 1000,
			ReadMs:    15000,
			WriteMs:   15000,
			TotalMs:   30000,
		},
		Limits: LimitsConfig{
			MaxClientConns:      1000,
			MaxConnsPerUpstream: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from config.yaml (or RAVEL_CONFIG_FILE) overlaid
// with RAVEL_* environment variables, validates it, and arms viper's
// fsnotify watch, which re-reads the file on every change. If
// onConfigChange is non-nil it is called after each change event, debounced;
// the re-read file is not validated here, so the callback obtains a
// validated value through Current.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RAVEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal only sees keys viper already knows about, so the scalar
	// settings are bound explicitly for RAVEL_* overrides to apply even when
	// no config file sets them.
	for _, key := range []string{
		"listen", "metrics_listen",
		"timeouts.connect_ms", "timeouts.read_ms", "timeouts.write_ms", "timeouts.total_ms",
		"limits.max_client_conns", "limits.max_conns_per_upstream",
		"logging.level",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, domain.NewError(domain.KindConfigError, "read_config", "", err)
		}
		if configFile := os.Getenv("RAVEL_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, domain.NewError(domain.KindConfigError, "read_config", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, domain.NewError(domain.KindConfigError, "decode_config", "", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < reloadDebounce {
				return
			}
			lastReload = now

			// fsnotify can fire before the writer has finished on some
			// filesystems; give it a moment before re-reading.
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Current re-decodes viper's live state (file + env, post any on-disk edit)
// into a fresh, validated Config. Called from a Load-installed onConfigChange
// callback, which only learns that something changed, not what into.
func Current() (*Config, error) {
	cfg := DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, domain.NewError(domain.KindConfigError, "decode_config", "", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a config that would make the handler or its adapters
// unable to start: no upstreams, negative timeouts, or non-positive limits.
// A timeout of exactly 0 is spec-legal (C2: "no bound for this phase") and
// is left alone here.
func Validate(cfg *Config) error {
	if cfg.Listen == "" {
		return domain.NewError(domain.KindConfigError, "validate", "", fmt.Errorf("listen must not be empty"))
	}
	if len(cfg.Upstreams) == 0 {
		return domain.NewError(domain.KindConfigError, "validate", "", fmt.Errorf("at least one upstream is required"))
	}
	for _, u := range cfg.Upstreams {
		if u.Host == "" || u.Port == "" {
			return domain.NewError(domain.KindConfigError, "validate", "", fmt.Errorf("upstream %q:%q must have both host and port", u.Host, u.Port))
		}
	}
	if cfg.Timeouts.ConnectMs < 0 || cfg.Timeouts.ReadMs < 0 || cfg.Timeouts.WriteMs < 0 || cfg.Timeouts.TotalMs < 0 {
		return domain.NewError(domain.KindConfigError, "validate", "", fmt.Errorf("all timeouts.*_ms must not be negative"))
	}
	if cfg.Limits.MaxClientConns <= 0 || cfg.Limits.MaxConnsPerUpstream <= 0 {
		return domain.NewError(domain.KindConfigError, "validate", "", fmt.Errorf("both limits.max_* must be positive"))
	}
	return nil
}

// ConnectTimeout returns the configured connect deadline as a time.Duration.
func (c *Config) ConnectTimeout() time.Duration { return time.Duration(c.Timeouts.ConnectMs) * time.Millisecond }

// ReadTimeout returns the configured read deadline as a time.Duration.
func (c *Config) ReadTimeout() time.Duration { return time.Duration(c.Timeouts.ReadMs) * time.Millisecond }

// WriteTimeout returns the configured write deadline as a time.Duration.
func (c *Config) WriteTimeout() time.Duration { return time.Duration(c.Timeouts.WriteMs) * time.Millisecond }

// TotalTimeout returns the configured end-to-end deadline as a time.Duration.
func (c *Config) TotalTimeout() time.Duration { return time.Duration(c.Timeouts.TotalMs) * time.Millisecond }
