package log

import (
	"fmt"
	stdlog "log"
	"strings"
)

// Config declares a logger: level, format ("text" or "json") and outputs
// ("console" or "null").
type Config struct {
	Level   string   `json:"level" yaml:"level"`
	Format  string   `json:"format" yaml:"format"`
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(level)}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{}))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	for _, o := range cfg.Outputs {
		switch strings.ToLower(o) {
		case "console", "stderr":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "null", "none":
			opts = append(opts, WithOutput(NullOutput{}))
		default:
			return nil, fmt.Errorf("unknown log output %q", o)
		}
	}
	return NewLogger(opts...), nil
}

// stdWriter adapts Logger to io.Writer for the standard library logger.
type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info(strings.TrimRight(string(p), "\n"), Component("stdlog"))
	return len(p), nil
}

// ToStdLogger returns a *log.Logger that forwards into l.
func ToStdLogger(l Logger) *stdlog.Logger {
	return stdlog.New(stdWriter{l: l}, "", 0)
}

// RedirectStdLog routes the standard library's default logger (used by
// Pebble's default options) into l.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(stdWriter{l: l})
}
