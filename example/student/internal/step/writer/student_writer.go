// Package writer selects the student writer named by the app configuration.
package writer

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	appconfig "github.com/tigerroll/chunkbatch/example/student/internal/config"
	"github.com/tigerroll/chunkbatch/example/student/internal/domain/model"
	batchwriter "github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const (
	SQLWriterName     = "studentSqlWriter"
	ParquetWriterName = "studentParquetWriter"
)

// LastInitial partitions students by the upper-cased first letter of their last name.
func LastInitial(s model.Student) (string, error) {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(s.LastName))
	if r == utf8.RuneError || !unicode.IsLetter(r) {
		return "last_initial=_", nil
	}
	return "last_initial=" + string(unicode.ToUpper(r)), nil
}

// New returns the writer selected by cfg.Writer. The console writer prints to out.
func New(cfg *appconfig.StudentJobConfig, resolver batchwriter.ResourceResolver, out io.Writer) (port.ItemWriter[model.Student], error) {
	switch cfg.Writer {
	case appconfig.WriterConsole:
		return batchwriter.NewConsoleItemWriter[model.Student](out), nil
	case appconfig.WriterSQL:
		return batchwriter.NewSqlBulkWriter[model.Student](SQLWriterName, cfg.Writers.SQL.SqlBulkWriterConfig)
	case appconfig.WriterParquet:
		var partition func(model.Student) (string, error)
		if cfg.Writers.Parquet.PartitionBy == "last-initial" {
			partition = LastInitial
		}
		return batchwriter.NewParquetWriter[model.Student](ParquetWriterName, cfg.Writers.Parquet.ParquetWriterConfig, resolver, partition)
	default:
		return nil, exception.NewConfigurationError("studentWriter", fmt.Sprintf("unknown writer '%s'", cfg.Writer), nil)
	}
}
