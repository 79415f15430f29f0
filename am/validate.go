package am

import (
	"strings"

	"github.com/teranos/croplink/errors"
)

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	// Pulse workers: 0 = intake only, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.ReaperGraceSeconds < 0 {
		return errors.Newf("pulse.reaper_grace_seconds must be >= 0, got %d", c.Pulse.ReaperGraceSeconds)
	}
	if c.Pulse.TickerIntervalSeconds < 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be >= 0, got %d", c.Pulse.TickerIntervalSeconds)
	}
	if c.Pulse.ProcessingTimeoutSeconds <= 0 {
		return errors.Newf("pulse.processing_timeout_seconds must be > 0, got %d", c.Pulse.ProcessingTimeoutSeconds)
	}
	if c.Pulse.MaxAttempts < 1 {
		return errors.Newf("pulse.max_attempts must be >= 1, got %d", c.Pulse.MaxAttempts)
	}
	if c.Pulse.BackoffBaseSeconds < 0 || c.Pulse.BackoffMaxSeconds < 0 {
		return errors.New("pulse backoff seconds must be >= 0")
	}
	if c.Pulse.BackoffMaxSeconds < c.Pulse.BackoffBaseSeconds {
		return errors.Newf("pulse.backoff_max_seconds (%d) must be >= pulse.backoff_base_seconds (%d)",
			c.Pulse.BackoffMaxSeconds, c.Pulse.BackoffBaseSeconds)
	}
	if c.Pulse.MaxMemoryPercent < 0 || c.Pulse.MaxMemoryPercent > 100 {
		return errors.Newf("pulse.max_memory_percent must be between 0 and 100, got %d", c.Pulse.MaxMemoryPercent)
	}

	switch c.Sources.Store {
	case "sql":
	case "dir":
		if strings.TrimSpace(c.Sources.Dir) == "" {
			return errors.New("sources.dir cannot be empty when sources.store = \"dir\"")
		}
	default:
		return errors.WithHint(
			errors.Newf("unknown sources.store %q", c.Sources.Store),
			"use \"sql\" or \"dir\"",
		)
	}
	if c.Sources.CacheTTLSeconds < 0 {
		return errors.Newf("sources.cache_ttl_seconds must be >= 0, got %d", c.Sources.CacheTTLSeconds)
	}

	if c.Landing.RootURI == "" {
		return errors.New("landing.root_uri cannot be empty")
	}

	if c.Agent.TimeoutSeconds < 0 {
		return errors.Newf("agent.timeout_seconds must be >= 0, got %d", c.Agent.TimeoutSeconds)
	}

	// Pull rate: 0 = unlimited, negative = invalid
	if c.Pull.RequestsPerMinute < 0 {
		return errors.Newf("pull.requests_per_minute must be >= 0, got %d", c.Pull.RequestsPerMinute)
	}
	if c.Pull.RequestsPerMinute > 0 && c.Pull.Burst < 1 {
		return errors.Newf("pull.burst must be >= 1 when rate limited, got %d", c.Pull.Burst)
	}

	return nil
}
