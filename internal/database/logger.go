package database

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charlesng35/passgate/pkg/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// zapGormLogger forwards slow queries and unexpected failures to the global zap logger.
// Record-not-found results are expected on lookup paths and are not reported.
type zapGormLogger struct {
	level gormlogger.LogLevel
}

func newGormLogger() gormlogger.Interface {
	return &zapGormLogger{level: gormlogger.Warn}
}

func (l *zapGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cpy := *l
	cpy.level = level
	return &cpy
}

func (l *zapGormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		logger.WithModule("database").Sugar().Infof(msg, args...)
	}
}

func (l *zapGormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		logger.WithModule("database").Sugar().Warnf(msg, args...)
	}
}

func (l *zapGormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		logger.WithModule("database").Sugar().Errorf(msg, args...)
	}
}

func (l *zapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		logger.WithModule("database").Error("query failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		logger.WithModule("database").Warn("slow query",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	}
}
