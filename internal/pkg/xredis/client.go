// Package xredis builds the shared redis client the caches and locks
// run on.
package xredis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewClient builds and pings the client. Redis is mandatory at startup;
// a node that cannot reach it would serve nothing but lock timeouts.
func NewClient(cfg Config) (*redis.Client, error) {
	opts, err := newRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// newRedisOptions resolves the connection options. A redis:// or
// rediss:// URL wins over a plain Addr; explicit config fields override
// whatever the URL embeds.
func newRedisOptions(cfg Config) (*redis.Options, error) {
	var (
		opts *redis.Options
		err  error
	)

	switch {
	case cfg.URL != "":
		opts, err = optionsFromURL(cfg.URL, cfg.TLSInsecureSkipVerify)
	case strings.TrimSpace(cfg.Addr) != "":
		opts = &redis.Options{Addr: strings.TrimSpace(cfg.Addr)}
	default:
		err = errors.New("redis addr or url is required")
	}

	if err != nil {
		return nil, err
	}

	if cfg.Username != "" {
		opts.Username = cfg.Username
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.DB != nil {
		opts.DB = *cfg.DB
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	if cfg.TLS {
		if opts.TLSConfig == nil {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}

		opts.TLSConfig.InsecureSkipVerify = cfg.TLSInsecureSkipVerify // #nosec G402 -- explicit config opt-in
	}

	if opts.TLSConfig == nil && cfg.TLSInsecureSkipVerify {
		return nil, errors.New("tls_insecure_skip_verify requires TLS to be enabled (tls=true or rediss://)")
	}

	return opts, nil
}

func optionsFromURL(rawURL string, insecureSkipVerify bool) (*redis.Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported redis scheme: %s (expected redis:// or rediss://)", u.Scheme)
	}

	if u.Host == "" {
		return nil, errors.New("redis url missing host")
	}

	opts := &redis.Options{Addr: u.Host}

	if u.User != nil {
		opts.Username = u.User.Username()
		if pwd, ok := u.User.Password(); ok {
			opts.Password = pwd
		}
	}

	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		opts.DB, err = strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db in url: %w", err)
		}
	}

	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureSkipVerify, // #nosec G402 -- explicit config opt-in
		}
	}

	return opts, nil
}
