package xcache

import (
	"time"

	"github.com/openconf/authhub/internal/pkg/xlock"
)

type Config struct {
	// TTL is how long a positive entry is authoritative unless an
	// invalidation event arrives first.
	TTL time.Duration `conf:"ttl" yaml:"ttl" json:"ttl"`
	// NotFoundRetryAfter rate-limits re-fetches of keys confirmed absent.
	NotFoundRetryAfter time.Duration `conf:"not_found_retry_after" yaml:"not_found_retry_after" json:"not_found_retry_after"`
	// Lock configures the per-key population lock.
	Lock xlock.Config `conf:"lock" yaml:"lock" json:"lock"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}

	if c.NotFoundRetryAfter <= 0 {
		c.NotFoundRetryAfter = time.Minute
	}

	return c
}
