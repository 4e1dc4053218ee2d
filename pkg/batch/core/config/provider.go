package config

import (
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ConfigParams names the configuration sources of NewConfigProvider.
type ConfigParams struct {
	EmbeddedConfig EmbeddedConfig
	// EnvFilePath is the .env file; empty tries ./.env.
	EnvFilePath string
	// ConfigFilePath is an optional YAML file merged over EmbeddedConfig.
	ConfigFilePath string
}

// NewConfigProvider loads, applies and validates the configuration. Applications call
// it before building their container, because the result decides which modules (the
// job repository, the exporters) are included.
func NewConfigProvider(p ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(p.EnvFilePath, p.EmbeddedConfig, p.ConfigFilePath)
	if err != nil {
		return nil, err
	}
	if err := Apply(cfg); err != nil {
		return nil, err
	}
	logger.Debugf("Log level set to %s.", cfg.Chunkbatch.System.Logging.Level)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
