package jwks

import "time"

type Config struct {
	// Endpoint is the JWKS document URL of the identity provider.
	Endpoint string `conf:"endpoint" yaml:"endpoint" json:"endpoint"`
	// Issuer, when set, must match the token's iss claim.
	Issuer string `conf:"issuer" yaml:"issuer" json:"issuer"`
	// Audience, when set, must be present in the token's aud claim.
	Audience string `conf:"audience" yaml:"audience" json:"audience"`
	// RefreshInterval bounds how long parsed keys are reused before the
	// document is fetched again. Unknown key ids trigger an early refresh.
	RefreshInterval time.Duration `conf:"refresh_interval" yaml:"refresh_interval" json:"refresh_interval"`
	// RefetchCooldown is the minimum interval between early refreshes.
	// Tokens with fabricated key ids otherwise turn every verification
	// into a provider fetch.
	RefetchCooldown time.Duration `conf:"refetch_cooldown" yaml:"refetch_cooldown" json:"refetch_cooldown"`
	// HTTPTimeout applies to each fetch of the document.
	HTTPTimeout time.Duration `conf:"http_timeout" yaml:"http_timeout" json:"http_timeout"`
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Hour
	}

	if c.RefetchCooldown <= 0 {
		c.RefetchCooldown = 30 * time.Second
	}

	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}

	return c
}
