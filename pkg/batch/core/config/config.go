// Package config provides the configuration tree of the batch framework and its loader.
package config

import (
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/skip"
)

// EmbeddedConfig holds the content of the default configuration file, typically embedded
// into the binary by main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// Job repository types.
const (
	RepositoryTypeInMemory = "inmemory"
	RepositoryTypeSQL      = "sql"
)

// Exporters of metrics and traces.
const (
	ExporterNone       = "none"
	ExporterPrometheus = "prometheus"
	ExporterOTLPHTTP   = "otlp-http"
	ExporterOTLPGRPC   = "otlp-grpc"
)

// BatchConfig holds the defaults of chunk-oriented steps.
type BatchConfig struct {
	// JobName is the job launched when none is given on the command line.
	JobName string `yaml:"job-name"`
	// ChunkSize is the number of items committed per transaction.
	ChunkSize int `yaml:"chunk-size"`
	// IsolationLevel of chunk transactions, e.g. READ_COMMITTED. Empty uses the driver default.
	IsolationLevel string       `yaml:"isolation-level"`
	ItemRetry      retry.Config `yaml:"item-retry"`
	ItemSkip       skip.Config  `yaml:"item-skip"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR or SILENT.
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the IANA name applied to time.Local, e.g. "UTC" or "Asia/Tokyo".
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// JobRepositoryConfig selects the job repository implementation.
type JobRepositoryConfig struct {
	// Type is "inmemory" or "sql".
	Type string `yaml:"type"`
	// Database names the connection under "database" used by the sql repository.
	Database string `yaml:"database"`
	// AutoMigrate applies the framework schema at startup.
	AutoMigrate bool `yaml:"auto-migrate"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	JobRepository JobRepositoryConfig `yaml:"job-repository"`
}

// MetricsConfig controls the metric recorder. The prometheus exporter serves Path on
// Address; the otlp exporters push to Endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Address  string `yaml:"address"`
	Path     string `yaml:"path"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// IntervalSeconds is the push interval of the otlp exporters.
	IntervalSeconds int `yaml:"interval-seconds"`
	// AsyncBufferSize, when positive, records metrics on a background worker with a
	// queue of this size.
	AsyncBufferSize int `yaml:"async-buffer-size"`
}

// TracingConfig controls the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service-name"`
	SampleRatio float64 `yaml:"sample-ratio"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists JobParameters keys whose values are masked in logs.
	MaskedParameterKeys []string `yaml:"masked-parameter-keys"`
}

// ChunkbatchConfig holds all configuration under the "chunkbatch" top-level key.
type ChunkbatchConfig struct {
	Batch          BatchConfig                        `yaml:"batch"`
	System         SystemConfig                       `yaml:"system"`
	Infrastructure InfrastructureConfig               `yaml:"infrastructure"`
	Database       map[string]dbconfig.DatabaseConfig `yaml:"database"`
	Storage        storageconfig.DatasourcesConfig    `yaml:"storage"`
	Metrics        MetricsConfig                      `yaml:"metrics"`
	Tracing        TracingConfig                      `yaml:"tracing"`
	Security       SecurityConfig                     `yaml:"security"`
	// App holds application-specific settings, bound into typed structs with configbinder.
	App map[string]interface{} `yaml:"app"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Chunkbatch     ChunkbatchConfig `yaml:"chunkbatch"`
	EmbeddedConfig EmbeddedConfig   `yaml:"-"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Chunkbatch: ChunkbatchConfig{
			Batch: BatchConfig{
				ChunkSize: 10,
				ItemRetry: retry.Config{
					MaxRetries:      0,
					InitialInterval: 1000,
					MaxInterval:     30000,
				},
				ItemSkip: skip.Config{SkipLimit: 0},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
			},
			Infrastructure: InfrastructureConfig{
				JobRepository: JobRepositoryConfig{
					Type:        RepositoryTypeInMemory,
					Database:    "metadata",
					AutoMigrate: true,
				},
			},
			Database: map[string]dbconfig.DatabaseConfig{},
			Storage:  storageconfig.DatasourcesConfig{},
			Metrics: MetricsConfig{
				Exporter:        ExporterPrometheus,
				Address:         ":9090",
				Path:            "/metrics",
				IntervalSeconds: 15,
			},
			Tracing: TracingConfig{
				Exporter:    ExporterNone,
				ServiceName: "chunkbatch",
				SampleRatio: 1.0,
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			App: map[string]interface{}{},
		},
	}
}

// DatabaseConfig returns the named connection settings.
func (c *Config) DatabaseConfig(name string) (dbconfig.DatabaseConfig, bool) {
	db, ok := c.Chunkbatch.Database[name]
	return db, ok
}
