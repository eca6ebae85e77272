// Package conf loads the service configuration from file and
// environment and feeds the typed sub-configs into the fx graph.
package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/openconf/authhub/internal/jwks"
	"github.com/openconf/authhub/internal/log"
	"github.com/openconf/authhub/internal/pkg/xcache"
	"github.com/openconf/authhub/internal/pkg/xredis"
	"github.com/openconf/authhub/internal/server"
	"github.com/openconf/authhub/internal/store"
)

type Config struct {
	Server server.Config `conf:"server" yaml:"server" json:"server"`
	Log    log.Config    `conf:"log" yaml:"log" json:"log"`
	Redis  xredis.Config `conf:"redis" yaml:"redis" json:"redis"`
	DB     store.Config  `conf:"db" yaml:"db" json:"db"`
	JWKS   jwks.Config   `conf:"jwks" yaml:"jwks" json:"jwks"`
	Cache  xcache.Config `conf:"cache" yaml:"cache" json:"cache"`
}

// Load reads authhub.yaml from the working directory, ./conf or
// /etc/authhub, then overlays AUTHHUB_* environment variables
// (AUTHHUB_SERVER_PORT overrides server.port). A missing file is fine;
// everything can come from the environment.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigName("authhub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./conf")
	v.AddConfigPath("/etc/authhub")

	v.SetEnvPrefix("AUTHHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config

	err := v.Unmarshal(&config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.name", "authhub")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", log.FormatJSON)
}

// Module provides the loaded config and its sub-configs.
var Module = fx.Options(
	fx.Provide(Load),
	fx.Provide(
		func(c Config) server.Config { return c.Server },
		func(c Config) log.Config { return c.Log },
		func(c Config) xredis.Config { return c.Redis },
		func(c Config) store.Config { return c.DB },
		func(c Config) jwks.Config { return c.JWKS },
		func(c Config) xcache.Config { return c.Cache },
	),
)
