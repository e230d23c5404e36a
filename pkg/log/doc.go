// Package log is trustchain's structured logging facade.
//
// A small Logger interface with leveled methods takes Field values for
// structured context. Records are routed through log/slog by a bridge
// handler that keeps our own formatters and outputs, so slog-aware
// libraries can share the same sink.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("chain"), log.Str("chain", "default/orders"))
//	l.Info("chain open", log.Int("live", 12))
//
// ApplyConfig builds a logger from a declarative Config (text or json,
// console or null outputs). Field names such as "read_key" and "seed" are
// redacted on output.
//
// Pebble and other libraries that log through the standard library can be
// captured with RedirectStdLog; Slog returns a *slog.Logger for libraries
// that want one.
package log
