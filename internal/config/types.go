package config

// Config holds all configuration for the process. Field names and nesting
// follow the yaml schema in SPEC_FULL.md §6.
type Config struct {
	Listen        string           `yaml:"listen" mapstructure:"listen"`
	MetricsListen string           `yaml:"metrics_listen" mapstructure:"metrics_listen"`
	Upstreams     []UpstreamConfig `yaml:"upstreams" mapstructure:"upstreams"`
	Timeouts      TimeoutsConfig   `yaml:"timeouts" mapstructure:"timeouts"`
	Limits        LimitsConfig     `yaml:"limits" mapstructure:"limits"`
	Logging       LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// UpstreamConfig identifies one backend by host and port.
type UpstreamConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port string `yaml:"port" mapstructure:"port"`
}

// TimeoutsConfig holds the per-phase deadlines C2 enforces, all in
// milliseconds on the wire so the YAML stays free of duration-string parsing.
type TimeoutsConfig struct {
	ConnectMs int `yaml:"connect_ms" mapstructure:"connect_ms"`
	ReadMs    int `yaml:"read_ms" mapstructure:"read_ms"`
	WriteMs   int `yaml:"write_ms" mapstructure:"write_ms"`
	TotalMs   int `yaml:"total_ms" mapstructure:"total_ms"`
}

// LimitsConfig holds the two semaphore sizes C4 enforces.
type LimitsConfig struct {
	MaxClientConns      int64 `yaml:"max_client_conns" mapstructure:"max_client_conns"`
	MaxConnsPerUpstream int64 `yaml:"max_conns_per_upstream" mapstructure:"max_conns_per_upstream"`
}

// LoggingConfig holds the logging.level setting as loaded from the config
// file. It is decoded and kept on Config but not applied: main builds the
// slog handler from the RAVEL_LOG_LEVEL environment variable instead.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}
