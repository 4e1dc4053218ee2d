package test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// NewTestJobParameters creates JobParameters for testing.
func NewTestJobParameters(params map[string]interface{}) model.JobParameters {
	jp := model.NewJobParameters()
	for k, v := range params {
		jp.Put(k, v)
	}
	return jp
}

// NewTestJobInstance creates a JobInstance for testing.
func NewTestJobInstance(t *testing.T, jobName string, params model.JobParameters) *model.JobInstance {
	t.Helper()
	instance, err := model.NewJobInstance(jobName, params)
	require.NoError(t, err)
	return instance
}

// NewTestJobExecution creates a JobExecution of instance for testing.
func NewTestJobExecution(instance *model.JobInstance) *model.JobExecution {
	return model.NewJobExecution(instance, instance.Parameters)
}

// NewTestStepExecution creates a StepExecution attached to je for testing.
func NewTestStepExecution(stepName string, je *model.JobExecution) *model.StepExecution {
	se := model.NewStepExecution(stepName, je)
	if je != nil {
		je.AddStepExecution(se)
	}
	return se
}
