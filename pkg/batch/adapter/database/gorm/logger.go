package gorm

import (
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewGormLogger routes gorm's SQL log through the batch logger.
// level is one of SILENT, ERROR, WARN, INFO; anything else is SILENT.
func NewGormLogger(level string) gormlogger.Interface {
	var lvl gormlogger.LogLevel
	switch strings.ToUpper(level) {
	case "ERROR":
		lvl = gormlogger.Error
	case "WARN":
		lvl = gormlogger.Warn
	case "INFO":
		lvl = gormlogger.Info
	default:
		lvl = gormlogger.Silent
	}
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

type gormWriter struct{}

// Printf implements gormlogger.Writer.
func (gormWriter) Printf(format string, args ...interface{}) {
	logger.Debugf("[gorm] "+strings.ReplaceAll(format, "\n", " "), args...)
}
