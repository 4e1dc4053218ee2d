package incrementer

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	support "github.com/tigerroll/chunkbatch/pkg/batch/core/config/support"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Builder references under which the incrementers are registered with the JobFactory.
const (
	RunIDIncrementerRef     = "runIdIncrementer"
	TimestampIncrementerRef = "timestampIncrementer"
)

func nameProperty(properties map[string]interface{}, def string) string {
	if name, ok := properties["name"].(string); ok && name != "" {
		return name
	}
	return def
}

// NewRunIDIncrementerBuilder returns the builder of RunIDIncrementer. The optional
// "name" property selects the parameter key.
func NewRunIDIncrementerBuilder() support.JobParametersIncrementerBuilder {
	return func(cfg *config.Config, properties map[string]interface{}) (port.JobParametersIncrementer, error) {
		return NewRunIDIncrementer(nameProperty(properties, DefaultRunIDKey)), nil
	}
}

// NewTimestampIncrementerBuilder returns the builder of TimestampIncrementer.
func NewTimestampIncrementerBuilder() support.JobParametersIncrementerBuilder {
	return func(cfg *config.Config, properties map[string]interface{}) (port.JobParametersIncrementer, error) {
		return NewTimestampIncrementer(nameProperty(properties, DefaultTimestampKey)), nil
	}
}

// RegisterBuilders registers both incrementer builders with the JobFactory.
func RegisterBuilders(jf *support.JobFactory) {
	jf.RegisterJobParametersIncrementerBuilder(RunIDIncrementerRef, NewRunIDIncrementerBuilder())
	jf.RegisterJobParametersIncrementerBuilder(TimestampIncrementerRef, NewTimestampIncrementerBuilder())
	logger.Debugf("Incrementer builders registered with JobFactory: '%s', '%s'.", RunIDIncrementerRef, TimestampIncrementerRef)
}

// Module is the Fx module for the Incrementer package.
var Module = fx.Options(
	fx.Invoke(RegisterBuilders),
)
