package log

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Config struct {
	Level  string     `conf:"level" yaml:"level" json:"level"`
	Format string     `conf:"format" yaml:"format" json:"format"`
	File   FileConfig `conf:"file" yaml:"file" json:"file"`
}

// FileConfig enables file output with lumberjack rotation.
// When Path is empty, logs go to stderr.
type FileConfig struct {
	Path       string `conf:"path" yaml:"path" json:"path"`
	MaxSize    int    `conf:"max_size" yaml:"max_size" json:"max_size"`
	MaxBackups int    `conf:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `conf:"max_age" yaml:"max_age" json:"max_age"`
	Compress   bool   `conf:"compress" yaml:"compress" json:"compress"`
}
