package log

import (
	"fmt"
	stdlog "log"
	"strings"
)

// Config is the logging section of the server configuration.
type Config struct {
	Level  string `yaml:"level" env:"TIDAL_LOG_LEVEL"`
	Format string `yaml:"format" env:"TIDAL_LOG_FORMAT"`
}

// NewFromConfig builds a logger from a Config. Empty fields fall back to
// info level and text format.
func NewFromConfig(cfg Config) (Logger, error) {
	level := InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
	}
	var formatter Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	return NewLogger(WithLevel(level), WithFormatter(formatter)), nil
}

// RedirectStdLog routes the standard library's global logger through l at
// InfoLevel. Pebble and a few other dependencies log through stdlib log.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogAdapter{l: l})
}

type stdLogAdapter struct{ l Logger }

func (a stdLogAdapter) Write(p []byte) (int, error) {
	a.l.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
