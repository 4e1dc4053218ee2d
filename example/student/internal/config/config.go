// Package config binds the "app" section of the configuration into the settings of the
// student job.
package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/chunkbatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Reader kinds.
const (
	ReaderFlatFile = "flatfile"
	ReaderJSON     = "json"
	ReaderXML      = "xml"
	ReaderJDBC     = "jdbc"
	ReaderAdapter  = "adapter"
)

// Writer kinds.
const (
	WriterConsole = "console"
	WriterSQL     = "sql"
	WriterParquet = "parquet"
)

// InputFileParameter is the job parameter that overrides the resource of the file readers.
const InputFileParameter = "inputFile"

// JDBCReaderConfig selects the database and query of the jdbc reader.
type JDBCReaderConfig struct {
	Database               string `yaml:"database"`
	reader.SQLCursorConfig `yaml:",squash"`
}

// ReadersConfig holds the settings of every reader kind.
type ReadersConfig struct {
	FlatFile reader.FlatFileConfig `yaml:"flatfile"`
	JSON     reader.JSONConfig     `yaml:"json"`
	XML      reader.XMLConfig      `yaml:"xml"`
	JDBC     JDBCReaderConfig      `yaml:"jdbc"`
}

// SQLWriterConfig selects the database and upsert target of the sql writer.
type SQLWriterConfig struct {
	Database                   string `yaml:"database"`
	writer.SqlBulkWriterConfig `yaml:",squash"`
}

// ParquetConfig configures the parquet writer. Resource is a directory of part files;
// PartitionBy "last-initial" adds one subdirectory per initial of the last name.
type ParquetConfig struct {
	writer.ParquetWriterConfig `yaml:",squash"`
	PartitionBy                string `yaml:"partition-by"`
}

// WritersConfig holds the settings of every writer kind.
type WritersConfig struct {
	SQL     SQLWriterConfig `yaml:"sql"`
	Parquet ParquetConfig   `yaml:"parquet"`
}

// ServiceConfig configures the StudentService behind the adapter reader. Without a URL
// the service serves its built-in roster.
type ServiceConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout-seconds"`
}

// MigrationsConfig selects the database holding the student tables. AutoMigrate applies
// the embedded application migrations before a job runs.
type MigrationsConfig struct {
	Database    string `yaml:"database"`
	AutoMigrate bool   `yaml:"auto-migrate"`
}

// StudentJobConfig is the typed form of the "app" configuration section.
type StudentJobConfig struct {
	Reader string `yaml:"reader"`
	Writer string `yaml:"writer"`
	// Process enables the StudentProcessor between reader and writer.
	Process    bool             `yaml:"process"`
	ChunkSize  int              `yaml:"chunk-size"`
	Readers    ReadersConfig    `yaml:"readers"`
	Writers    WritersConfig    `yaml:"writers"`
	Service    ServiceConfig    `yaml:"service"`
	Migrations MigrationsConfig `yaml:"migrations"`
}

// Default returns the settings of the sample job: students read through the adapter
// and printed to the console. The chunk size comes from batch.chunk-size unless
// app.chunk-size sets it.
func Default() *StudentJobConfig {
	return &StudentJobConfig{
		Reader: ReaderAdapter,
		Writer: WriterConsole,
		Readers: ReadersConfig{
			FlatFile: reader.FlatFileConfig{
				Resource:    "data/students.csv",
				Delimiter:   "|",
				Names:       []string{"ID", "First Name", "Last Name", "Email"},
				LinesToSkip: 1,
			},
			JSON: reader.JSONConfig{
				Resource:         "data/students.json",
				CurrentItemCount: 2,
				MaxItemCount:     8,
			},
			XML: reader.XMLConfig{
				Resource:            "data/students.xml",
				FragmentRootElement: "student",
			},
			JDBC: JDBCReaderConfig{
				Database: "university",
				SQLCursorConfig: reader.SQLCursorConfig{
					Query:            "SELECT id, first_name AS firstName, last_name AS lastName, email FROM student ORDER BY id",
					CurrentItemCount: 2,
				},
			},
		},
		Writers: WritersConfig{
			SQL: SQLWriterConfig{
				Database: "university",
				SqlBulkWriterConfig: writer.SqlBulkWriterConfig{
					Table:           "student_out",
					ConflictColumns: []string{"id"},
					UpdateColumns:   []string{"first_name", "last_name", "email"},
				},
			},
			Parquet: ParquetConfig{
				ParquetWriterConfig: writer.ParquetWriterConfig{
					Resource:    "out/students",
					Compression: "SNAPPY",
				},
			},
		},
		Service:    ServiceConfig{TimeoutSeconds: 10},
		Migrations: MigrationsConfig{Database: "university"},
	}
}

// Load binds cfg.Chunkbatch.App over the defaults and validates the result.
func Load(cfg *config.Config) (*StudentJobConfig, error) {
	c := Default()
	if err := configbinder.BindProperties(cfg.Chunkbatch.App, c); err != nil {
		return nil, exception.NewConfigurationError("studentConfig", "failed to bind app configuration", err)
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = cfg.Chunkbatch.Batch.ChunkSize
	}
	if err := c.Validate(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the reader and writer kinds and the databases they reference.
func (c *StudentJobConfig) Validate(cfg *config.Config) error {
	var result *multierror.Error

	switch c.Reader {
	case ReaderFlatFile, ReaderJSON, ReaderXML, ReaderAdapter:
	case ReaderJDBC:
		if _, ok := cfg.DatabaseConfig(c.Readers.JDBC.Database); !ok {
			result = multierror.Append(result, fmt.Errorf("jdbc reader database '%s' is not configured", c.Readers.JDBC.Database))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown reader '%s'", c.Reader))
	}

	switch c.Writer {
	case WriterConsole:
	case WriterParquet:
		switch c.Writers.Parquet.PartitionBy {
		case "", "last-initial":
		default:
			result = multierror.Append(result, fmt.Errorf("unknown parquet partitioning '%s'", c.Writers.Parquet.PartitionBy))
		}
	case WriterSQL:
		if _, ok := cfg.DatabaseConfig(c.Writers.SQL.Database); !ok {
			result = multierror.Append(result, fmt.Errorf("sql writer database '%s' is not configured", c.Writers.SQL.Database))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown writer '%s'", c.Writer))
	}

	if c.Migrations.AutoMigrate {
		if _, ok := cfg.DatabaseConfig(c.Migrations.Database); !ok {
			result = multierror.Append(result, fmt.Errorf("migrations database '%s' is not configured", c.Migrations.Database))
		}
	}

	if c.ChunkSize < 1 {
		result = multierror.Append(result, fmt.Errorf("chunk-size must be at least 1, got %d", c.ChunkSize))
	}

	if err := result.ErrorOrNil(); err != nil {
		return exception.NewConfigurationError("studentConfig", "invalid app configuration", err)
	}
	return nil
}

// BusinessDatabase names the database the chunk transactions run on, or "" when the
// selected writer is not transactional.
func (c *StudentJobConfig) BusinessDatabase() string {
	if c.Writer == WriterSQL {
		return c.Writers.SQL.Database
	}
	return ""
}
