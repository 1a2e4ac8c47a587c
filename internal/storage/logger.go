package storage

import (
	"context"
	"time"

	ilog "cdpintercept/internal/logger"

	"gorm.io/gorm/logger"
)

// GormLogger routes GORM's logging through the project logger.
type GormLogger struct {
	ilog.Logger
	LogLevel logger.LogLevel
}

// NewGormLogger creates a GormLogger at warn level; SQL tracing is
// noisy at interception rates.
func NewGormLogger(l ilog.Logger) *GormLogger {
	return &GormLogger{Logger: l, LogLevel: logger.Warn}
}

// LogMode sets the log level.
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

// Info logs at info level.
func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, pairs(data)...)
	}
}

// Warn logs at warn level.
func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, pairs(data)...)
	}
}

// Error logs at error level.
func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Err(nil, msg, pairs(data)...)
	}
}

// Trace logs executed SQL.
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && l.LogLevel >= logger.Error:
		l.Logger.Err(err, "sql failed", fields...)
	case elapsed > time.Second && l.LogLevel >= logger.Warn:
		l.Logger.Warn("slow sql", append(fields, "threshold", "1s")...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("sql executed", fields...)
	}
}

func pairs(data []any) []any {
	out := make([]any, 0, len(data)*2)
	for _, d := range data {
		out = append(out, "arg", d)
	}
	return out
}
