package incrementer

import (
	"fmt"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultTimestampKey is the parameter TimestampIncrementer maintains when no name is configured.
const DefaultTimestampKey = "timestamp"

// TimestampIncrementer stores the current Unix milliseconds under its parameter.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer creates a new instance of TimestampIncrementer.
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	if name == "" {
		name = DefaultTimestampKey
	}
	return &TimestampIncrementer{
		name: name,
		now:  time.Now,
	}
}

// GetNext returns a copy of params with the timestamp set to now. Two calls within the
// same millisecond still yield distinct values.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := params.Copy()

	timestamp := i.now().UnixMilli()
	if previous, ok := params.GetInt(i.name); ok && int64(previous) >= timestamp {
		timestamp = int64(previous) + 1
	}
	next.Put(i.name, timestamp)
	logger.Debugf("JobParametersIncrementer '%s': Setting '%s' to %d.", i, i.name, timestamp)
	return next
}

// String returns the string representation of TimestampIncrementer.
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)
