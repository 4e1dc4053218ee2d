// Package incrementer provides JobParametersIncrementer implementations that turn the
// parameters of the previous run into the parameters of a new JobInstance.
package incrementer

import (
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultRunIDKey is the parameter RunIDIncrementer maintains when no name is configured.
const DefaultRunIDKey = "run.id"

// RunIDIncrementer sets its parameter to 1 when absent and increments it otherwise.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a new instance of RunIDIncrementer.
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	if name == "" {
		name = DefaultRunIDKey
	}
	return &RunIDIncrementer{
		name: name,
	}
}

// GetNext returns a copy of params with the run identifier incremented.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := params.Copy()

	current, ok := params.GetInt(i.name)
	if !ok {
		next.Put(i.name, int64(1))
		logger.Debugf("JobParametersIncrementer '%s': '%s' not found, setting to 1.", i, i.name)
		return next
	}
	next.Put(i.name, int64(current)+1)
	logger.Debugf("JobParametersIncrementer '%s': Incrementing '%s' from %d to %d.", i, i.name, current, current+1)
	return next
}

// String returns the string representation of RunIDIncrementer.
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)
