package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "config"

// LoadConfig builds the configuration in layers: defaults from NewConfig, the embedded
// YAML, an optional external YAML file and finally environment variables. A .env file
// is loaded first so its values take part in ${VAR} expansion and env overrides.
//
// Parameters:
//
//	envFilePath: The .env file to load. Empty tries ./.env and ignores its absence.
//	embedded: The embedded default configuration.
//	externalPath: An optional YAML file overriding the embedded configuration.
//
// Returns:
//
//	The loaded Config and an error if a layer cannot be read or parsed.
func LoadConfig(envFilePath string, embedded EmbeddedConfig, externalPath string) (*Config, error) {
	return loadConfig(envFilePath, embedded, externalPath, NewOsEnvironmentExpander())
}

func loadConfig(envFilePath string, embedded EmbeddedConfig, externalPath string, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()
	cfg.EmbeddedConfig = embedded

	if err := applyYAML(cfg, embedded, expander); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to unmarshal embedded config", err)
	}
	if externalPath != "" {
		data, err := os.ReadFile(externalPath)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to read config file '%s'", externalPath), err)
		}
		if err := applyYAML(cfg, data, expander); err != nil {
			return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to unmarshal config file '%s'", externalPath), err)
		}
		logger.Infof("Loaded configuration overrides from '%s'.", externalPath)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to load config from environment variables", err)
	}
	return cfg, nil
}

// applyYAML decodes data over cfg. yaml.v3 only touches the keys present in data, so
// earlier layers survive wherever data is silent.
func applyYAML(cfg *Config, data []byte, expander EnvironmentExpander) error {
	if len(data) == 0 {
		return nil
	}
	expanded, err := expander.Expand(data)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(expanded, cfg)
}

// Apply pushes process-wide settings of cfg into the logger, the parameter masking and
// the local time zone.
func Apply(cfg *Config) error {
	logger.SetLogLevel(cfg.Chunkbatch.System.Logging.Level)
	model.SetMaskedParameterKeys(cfg.Chunkbatch.Security.MaskedParameterKeys)
	if tz := cfg.Chunkbatch.System.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return exception.NewConfigurationError(moduleName, fmt.Sprintf("unknown timezone '%s'", tz), err)
		}
		time.Local = loc
	}
	return nil
}

// Validate checks the values the engine depends on. All problems are reported together.
func Validate(cfg *Config) error {
	var result *multierror.Error
	c := cfg.Chunkbatch

	if c.Batch.ChunkSize < 1 {
		result = multierror.Append(result, fmt.Errorf("batch.chunk-size must be at least 1, got %d", c.Batch.ChunkSize))
	}
	if c.Batch.ItemRetry.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("batch.item-retry.max-retries cannot be negative"))
	}
	if c.Batch.ItemSkip.SkipLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("batch.item-skip.skip-limit cannot be negative"))
	}
	if err := checkExceptionClasses(c.Batch.ItemRetry.RetryableExceptions, "item-retry"); err != nil {
		result = multierror.Append(result, err)
	}
	if err := checkExceptionClasses(c.Batch.ItemSkip.SkippableExceptions, "item-skip"); err != nil {
		result = multierror.Append(result, err)
	}

	switch repo := c.Infrastructure.JobRepository; repo.Type {
	case RepositoryTypeInMemory:
	case RepositoryTypeSQL:
		if _, ok := c.Database[repo.Database]; !ok {
			result = multierror.Append(result, fmt.Errorf("job repository database '%s' is not configured under database", repo.Database))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown job repository type '%s'", repo.Type))
	}

	if c.Metrics.Enabled {
		switch c.Metrics.Exporter {
		case ExporterPrometheus, ExporterOTLPHTTP, ExporterOTLPGRPC:
		default:
			result = multierror.Append(result, fmt.Errorf("unknown metrics exporter '%s'", c.Metrics.Exporter))
		}
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case ExporterNone, ExporterOTLPHTTP, ExporterOTLPGRPC:
		default:
			result = multierror.Append(result, fmt.Errorf("unknown tracing exporter '%s'", c.Tracing.Exporter))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return exception.NewConfigurationError(moduleName, "invalid configuration", err)
	}
	return nil
}

// checkExceptionClasses validates that every configured exception name is known to the
// exception registry.
func checkExceptionClasses(classNames []string, configType string) error {
	for _, name := range classNames {
		if !exception.IsErrorTypeRegistered(name) {
			return fmt.Errorf("%s configuration references unknown exception class '%s'", configType, name)
		}
	}
	return nil
}

// envName turns a yaml tag path into an environment variable name.
func envName(prefix, tag string) string {
	return strings.ToUpper(prefix + strings.ReplaceAll(tag, "-", "_"))
}

// loadStructFromEnv recursively overrides struct fields from environment variables whose
// names derive from the yaml tags, e.g. CHUNKBATCH_BATCH_CHUNK_SIZE.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		name := envName(prefix, yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, name+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct:
			if err := loadMapOfStructsFromEnv(field, name+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(name)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, name, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv fills map[string]struct fields from variables such as
// CHUNKBATCH_DATABASE_METADATA_HOST, where METADATA is the lower-cased map key.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		keyAndField, envValue, ok := strings.Cut(strings.TrimPrefix(env, prefix), "=")
		if !ok {
			continue
		}
		mapKey, fieldName, ok := strings.Cut(keyAndField, "_")
		if !ok || mapKey == "" || fieldName == "" {
			continue
		}
		mapKey = strings.ToLower(mapKey)

		structVal := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			structVal.Set(existing)
		}
		if err := setStructFieldFromEnv(structVal, fieldName, envValue); err != nil {
			return fmt.Errorf("failed to set '%s%s': %w", prefix, keyAndField, err)
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the field whose yaml tag matches fieldName, case-insensitively.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		yamlTag := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(strings.ReplaceAll(yamlTag, "-", "_"), fieldName) {
			return setField(structVal.Field(i), value)
		}
	}
	return nil
}

// setField converts value to the kind of field. Slices of strings are comma separated.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
