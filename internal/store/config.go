package store

type Config struct {
	// URL is a postgres connection string (postgres://...).
	URL      string `conf:"url" yaml:"url" json:"url"`
	MaxConns int32  `conf:"max_conns" yaml:"max_conns" json:"max_conns"`
	MinConns int32  `conf:"min_conns" yaml:"min_conns" json:"min_conns"`
}
