// Package am ("as configured") holds croplink's runtime configuration.
//
// Values are merged from defaults, /etc/croplink/croplink.toml,
// ~/.croplink/croplink.toml, the nearest croplink.toml found walking up
// from the working directory, and finally CROPLINK_* environment variables.
package am

// Config represents the complete croplink configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Pulse    PulseConfig    `mapstructure:"pulse"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Landing  LandingConfig  `mapstructure:"landing"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Pull     PullConfig     `mapstructure:"pull"`
}

// DatabaseConfig configures the SQLite database holding jobs, documents and reference data
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP server (event intake, admin API, metrics)
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogTheme       string   `mapstructure:"log_theme"`
	JSONLogs       bool     `mapstructure:"json_logs"`
}

// DefaultServerPort is used when server.port is not configured
const DefaultServerPort = 8470

// PulseConfig configures the ingestion queue and its workers
type PulseConfig struct {
	Workers                  int `mapstructure:"workers"`                    // concurrent workers (0 = queue only, no processing)
	PollIntervalMS           int `mapstructure:"poll_interval_ms"`           // how often idle workers check the queue
	TickerIntervalSeconds    int `mapstructure:"ticker_interval_seconds"`    // reaper interval for stuck jobs (0 = disabled)
	ProcessingTimeoutSeconds int `mapstructure:"processing_timeout_seconds"` // per-attempt deadline
	ReaperGraceSeconds       int `mapstructure:"reaper_grace_seconds"`       // extra age past the deadline before a job counts as stuck
	MaxAttempts              int `mapstructure:"max_attempts"`               // attempts before dead-lettering
	BackoffBaseSeconds       int `mapstructure:"backoff_base_seconds"`       // first retry delay
	BackoffMaxSeconds        int `mapstructure:"backoff_max_seconds"`        // retry delay cap
	MaxMemoryPercent         int `mapstructure:"max_memory_percent"`         // workers pause dequeuing above this (0 = never)
}

// SourcesConfig configures where source configs are read from
type SourcesConfig struct {
	Store           string `mapstructure:"store"` // "sql" or "dir"
	Dir             string `mapstructure:"dir"`   // YAML directory when store = "dir"
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	Watch           bool   `mapstructure:"watch"`      // invalidate the cache when files in dir change
	SchemaDir       string `mapstructure:"schema_dir"` // base for relative validation.schema_ref paths
}

// LandingConfig configures access to the landing store where raw blobs arrive
type LandingConfig struct {
	// RootURI is prefixed to candidate paths and handed to go-getter,
	// e.g. "file:///srv/landing" or "s3::https://s3.eu-west-1.amazonaws.com/landing".
	RootURI string `mapstructure:"root_uri"`
}

// AgentConfig configures the extraction agent used by agent-strategy sources
type AgentConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PullConfig configures outbound pulls for scheduled sources
type PullConfig struct {
	RequestsPerMinute int  `mapstructure:"requests_per_minute"` // 0 = unlimited
	Burst             int  `mapstructure:"burst"`
	AllowPrivateHosts bool `mapstructure:"allow_private_hosts"` // permit pulls from private address ranges
	TimeoutSeconds    int  `mapstructure:"timeout_seconds"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
