// Package logger wraps zerolog with the small surface the rest of the code uses.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and output format.
type Config struct {
	Level  string    `yaml:"level" env:"RESPECTASO_LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Format string    `yaml:"format" env:"RESPECTASO_LOG_FORMAT" validate:"omitempty,oneof=json console pretty"`
	Output io.Writer `yaml:"-"`
}

// Logger is a structured logger.
type Logger struct {
	zlog zerolog.Logger
}

// New creates a Logger. Output defaults to stderr so command output on
// stdout stays machine readable.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" || cfg.Format == "pretty" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zlog.Error().Msgf(format, args...) }

// WithField returns a child logger carrying key=value.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithFields returns a child logger carrying all fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// WithError returns a child logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return l.WithField("component", component)
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}
