package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket-name"`      // Default bucket of operations that name none.
	CredentialsFile string `yaml:"credentials-file"` // Service account key for GCS. Empty uses application default credentials.
	Endpoint        string `yaml:"endpoint"`         // Alternative GCS endpoint, e.g. an emulator. Disables authentication.
	BaseDir         string `yaml:"base-dir"`         // Root directory of a local connection.
}

// DatasourcesConfig holds a map of named storage configurations.
type DatasourcesConfig map[string]StorageConfig
