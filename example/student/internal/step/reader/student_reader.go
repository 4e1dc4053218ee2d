// Package reader selects the student reader named by the app configuration.
package reader

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	appconfig "github.com/tigerroll/chunkbatch/example/student/internal/config"
	"github.com/tigerroll/chunkbatch/example/student/internal/domain/model"
	"github.com/tigerroll/chunkbatch/example/student/internal/service"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/sqldb"
	batchreader "github.com/tigerroll/chunkbatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	batchmodel "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Reader names, which also prefix the keys they store in the ExecutionContext.
const (
	FlatFileReaderName = "studentFlatFileReader"
	JSONReaderName     = "studentJsonReader"
	XMLReaderName      = "studentXmlReader"
	JDBCReaderName     = "studentJdbcReader"
	AdapterReaderName  = "studentAdapterReader"
)

type buildFunc func(ctx context.Context, params batchmodel.JobParameters) (port.ItemReader[model.Student], func() error, error)

// stepScoped builds its delegate when the step opens it, so the delegate can depend on
// the parameters of the running job.
type stepScoped struct {
	name     string
	build    buildFunc
	delegate port.ItemReader[model.Student]
	release  func() error
}

var _ port.ItemReader[model.Student] = (*stepScoped)(nil)

func (r *stepScoped) Open(ctx context.Context, ec batchmodel.ExecutionContext) error {
	params := batchmodel.NewJobParameters()
	if je := port.JobExecutionFromContext(ctx); je != nil {
		params = je.Parameters
	}
	delegate, release, err := r.build(ctx, params)
	if err != nil {
		return err
	}
	if err := delegate.Open(ctx, ec); err != nil {
		if release != nil {
			_ = release()
		}
		return err
	}
	r.delegate, r.release = delegate, release
	return nil
}

func (r *stepScoped) Read(ctx context.Context) (model.Student, error) {
	if r.delegate == nil {
		return model.Student{}, exception.NewBatchErrorf(r.name, "reader is not open")
	}
	return r.delegate.Read(ctx)
}

func (r *stepScoped) Close(ctx context.Context) error {
	if r.delegate == nil {
		return nil
	}
	var result *multierror.Error
	if err := r.delegate.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if r.release != nil {
		if err := r.release(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	r.delegate, r.release = nil, nil
	return result.ErrorOrNil()
}

func (r *stepScoped) GetExecutionContext(ctx context.Context) (batchmodel.ExecutionContext, error) {
	if r.delegate == nil {
		return batchmodel.NewExecutionContext(), nil
	}
	return r.delegate.GetExecutionContext(ctx)
}

// inputFile returns the inputFile job parameter, or def when it is not set.
func inputFile(params batchmodel.JobParameters, def string) string {
	if v, ok := params.GetString(appconfig.InputFileParameter); ok && v != "" {
		return v
	}
	return def
}

// New returns the reader selected by cfg.Reader. File readers take their resource from
// the inputFile job parameter when it is given. The jdbc reader opens its database when
// the step starts and closes it with the step.
func New(cfg *appconfig.StudentJobConfig, batchCfg *config.Config, resolver batchreader.ResourceResolver, svc *service.StudentService) (port.ItemReader[model.Student], error) {
	var (
		name  string
		build buildFunc
	)
	switch cfg.Reader {
	case appconfig.ReaderFlatFile:
		name = FlatFileReaderName
		build = func(ctx context.Context, params batchmodel.JobParameters) (port.ItemReader[model.Student], func() error, error) {
			fc := cfg.Readers.FlatFile
			fc.Resource = inputFile(params, fc.Resource)
			r, err := batchreader.NewFlatFileItemReader[model.Student](name, fc, resolver, nil)
			return r, nil, err
		}
	case appconfig.ReaderJSON:
		name = JSONReaderName
		build = func(ctx context.Context, params batchmodel.JobParameters) (port.ItemReader[model.Student], func() error, error) {
			jc := cfg.Readers.JSON
			jc.Resource = inputFile(params, jc.Resource)
			r, err := batchreader.NewJSONItemReader[model.Student](name, jc, resolver)
			return r, nil, err
		}
	case appconfig.ReaderXML:
		name = XMLReaderName
		build = func(ctx context.Context, params batchmodel.JobParameters) (port.ItemReader[model.Student], func() error, error) {
			xc := cfg.Readers.XML
			xc.Resource = inputFile(params, xc.Resource)
			r, err := batchreader.NewXMLItemReader[model.Student](name, xc, resolver)
			return r, nil, err
		}
	case appconfig.ReaderJDBC:
		name = JDBCReaderName
		dbCfg, ok := batchCfg.DatabaseConfig(cfg.Readers.JDBC.Database)
		if !ok {
			return nil, exception.NewConfigurationError(name, fmt.Sprintf("database '%s' is not configured", cfg.Readers.JDBC.Database), nil)
		}
		build = func(ctx context.Context, params batchmodel.JobParameters) (port.ItemReader[model.Student], func() error, error) {
			db, err := sqldb.Open(ctx, dbCfg)
			if err != nil {
				return nil, nil, err
			}
			r, err := batchreader.NewSqlCursorReader[model.Student](db, name, cfg.Readers.JDBC.SQLCursorConfig, nil)
			if err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			return r, db.Close, nil
		}
	case appconfig.ReaderAdapter:
		name = AdapterReaderName
		if svc == nil {
			return nil, exception.NewConfigurationError(name, "adapter reader needs a StudentService", nil)
		}
		build = func(ctx context.Context, params batchmodel.JobParameters) (port.ItemReader[model.Student], func() error, error) {
			svc.Rewind()
			return batchreader.NewItemReaderAdapter(name, svc.GetStudent), nil, nil
		}
	default:
		return nil, exception.NewConfigurationError("studentReader", fmt.Sprintf("unknown reader '%s'", cfg.Reader), nil)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	logger.Debugf("Student reader: %s.", name)
	return &stepScoped{name: name, build: build}, nil
}

// validate builds the file readers once so bad settings fail the job build rather than
// the step. The resource may still come from the inputFile parameter.
func validate(cfg *appconfig.StudentJobConfig) error {
	const placeholder = "-"
	var err error
	switch cfg.Reader {
	case appconfig.ReaderFlatFile:
		fc := cfg.Readers.FlatFile
		fc.Resource = placeholder
		_, err = batchreader.NewFlatFileItemReader[model.Student](FlatFileReaderName, fc, nil, nil)
	case appconfig.ReaderXML:
		xc := cfg.Readers.XML
		xc.Resource = placeholder
		_, err = batchreader.NewXMLItemReader[model.Student](XMLReaderName, xc, nil)
	}
	return err
}
