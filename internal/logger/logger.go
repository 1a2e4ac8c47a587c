// Package logger wraps zerolog behind a small key-value interface so
// the rest of the codebase does not bind to a concrete logging library.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the project-wide logging interface. Arguments after the
// message are alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options controls writer and level selection.
type Options struct {
	Level   string   // debug, info, warn, error
	Writers []string // console, file
	File    string   // path for the file writer
}

type zlogger struct {
	l zerolog.Logger
}

// New builds a zerolog-backed Logger. The file writer rotates via
// lumberjack.
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		case "file":
			path := opts.File
			if path == "" {
				path = "cdpintercept.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    50, // MB
				MaxBackups: 3,
				MaxAge:     14, // days
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return &zlogger{l: zl}
}

// NewNop returns a Logger that discards everything. Used in tests and
// as the fallback when no logger is supplied.
func NewNop() Logger {
	return &zlogger{l: zerolog.Nop()}
}

func (z *zlogger) Debug(msg string, kv ...any) { emit(z.l.Debug(), msg, kv) }
func (z *zlogger) Info(msg string, kv ...any)  { emit(z.l.Info(), msg, kv) }
func (z *zlogger) Warn(msg string, kv ...any)  { emit(z.l.Warn(), msg, kv) }

func (z *zlogger) Err(err error, msg string, kv ...any) {
	emit(z.l.Error().Err(err), msg, kv)
}

func (z *zlogger) With(kv ...any) Logger {
	c := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		c = c.Interface(key(kv[i]), kv[i+1])
	}
	return &zlogger{l: c.Logger()}
}

func emit(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		ev = ev.Interface(key(kv[i]), kv[i+1])
	}
	ev.Msg(msg)
}

func key(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
