package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "croplink.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
	})
	v.SetDefault("server.log_theme", "everforest")
	v.SetDefault("server.json_logs", false)

	v.SetDefault("pulse.workers", 4)
	v.SetDefault("pulse.poll_interval_ms", 500)
	v.SetDefault("pulse.ticker_interval_seconds", 30)
	v.SetDefault("pulse.processing_timeout_seconds", 300)
	v.SetDefault("pulse.reaper_grace_seconds", 30)
	v.SetDefault("pulse.max_attempts", 3)
	v.SetDefault("pulse.backoff_base_seconds", 10)
	v.SetDefault("pulse.backoff_max_seconds", 900)
	v.SetDefault("pulse.max_memory_percent", 90)

	v.SetDefault("sources.store", "sql")
	v.SetDefault("sources.dir", "sources")
	v.SetDefault("sources.cache_ttl_seconds", 300)
	v.SetDefault("sources.watch", true)
	v.SetDefault("sources.schema_dir", "schemas")

	v.SetDefault("landing.root_uri", "file:///var/lib/croplink/landing")

	v.SetDefault("agent.base_url", "http://localhost:11434/v1")
	v.SetDefault("agent.model", "llama3.2:3b")
	v.SetDefault("agent.timeout_seconds", 120)

	v.SetDefault("pull.requests_per_minute", 60)
	v.SetDefault("pull.burst", 5)
	v.SetDefault("pull.allow_private_hosts", false)
	v.SetDefault("pull.timeout_seconds", 30)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("agent.api_key", "CROPLINK_AGENT_API_KEY")
	_ = v.BindEnv("database.path", "CROPLINK_DATABASE_PATH")
	_ = v.BindEnv("landing.root_uri", "CROPLINK_LANDING_ROOT_URI")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "croplink.db"
	}
	return c.Database.Path
}

// GetServerPort returns the configured port or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{"http://localhost", "https://localhost", "http://127.0.0.1"}
	}
	return c.Server.AllowedOrigins
}

// ProcessingTimeout returns the per-attempt processing deadline
func (c *PulseConfig) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutSeconds) * time.Second
}

// ReaperTimeout returns how long a job may stay processing before the
// reaper takes it back. It always exceeds the attempt deadline by at least
// one poll interval, so a worker acknowledging at its deadline still owns
// the job.
func (c *PulseConfig) ReaperTimeout() time.Duration {
	grace := time.Duration(c.ReaperGraceSeconds) * time.Second
	if poll := c.PollInterval(); grace < poll {
		grace = poll
	}
	return c.ProcessingTimeout() + grace
}

// PollInterval returns how often idle workers poll the queue
func (c *PulseConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// CacheTTL returns the source config cache lifetime
func (c *SourcesConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// String returns a short representation of the config for startup logs
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Pulse: {Workers: %d, MaxAttempts: %d}, Sources: {Store: %s}}",
		c.GetDatabasePath(), c.GetServerPort(), c.Pulse.Workers, c.Pulse.MaxAttempts, c.Sources.Store)
}
