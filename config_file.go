package cytoqc

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Report storage backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// StoreConfig selects and configures report storage.
type StoreConfig struct {
	// Backend is file, memory or s3. Default: file.
	Backend string `yaml:"backend"`
	// Path is the base directory of the file backend. Default: ./cytoqc-reports.
	Path string `yaml:"path"`
	// MaxBytes bounds the memory backend; 0 means no limit.
	MaxBytes int64 `yaml:"max_bytes"`

	S3         S3BackendConfig  `yaml:"s3"`
	Encryption EncryptionConfig `yaml:"encryption"`
}

// FileConfig is the YAML configuration of a cytoqc deployment.
type FileConfig struct {
	// QC is the base run configuration. Channels may be left empty, in which
	// case every fluorescence channel of an upload is examined.
	QC          Config             `yaml:"qc"`
	Store       StoreConfig        `yaml:"store"`
	Index       *ReportIndexConfig `yaml:"index"`
	RemoteWrite *RemoteWriteConfig `yaml:"remote_write"`
	Server      ServerConfig       `yaml:"server"`
}

// DefaultFileConfig returns the configuration used for absent keys.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		QC:     DefaultConfig(),
		Store:  StoreConfig{Backend: BackendFile, Path: "cytoqc-reports"},
		Server: DefaultServerConfig(),
	}
}

// ParseConfigFile reads and validates a YAML configuration file.
func ParseConfigFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfigYAML(data)
}

// ParseConfigYAML decodes YAML over DefaultFileConfig and validates the
// result.
func ParseConfigYAML(data []byte) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, newError(KindConfig, "invalid YAML", err)
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c FileConfig) Validate() error {
	qc := c.QC
	if len(qc.Channels) == 0 {
		qc.Channels = []string{"*"}
	}
	if err := qc.Validate(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Path == "" {
			return configError("store.path is required for the file backend")
		}
	case BackendMemory:
		if c.Store.MaxBytes < 0 {
			return configError("store.max_bytes must not be negative")
		}
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			return configError("store.s3.bucket is required for the s3 backend")
		}
	default:
		return configError("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Encryption.Enabled && len(c.Store.Encryption.Key) == 0 && c.Store.Encryption.KeyPassword == "" {
		return configError("store.encryption needs a key_password")
	}

	if c.Index != nil {
		if c.Index.DSN == "" {
			return configError("index.dsn is required")
		}
		if d := c.Index.Driver; d != "" && d != DriverSQLite && d != DriverPostgres {
			return configError("unknown index driver %q", d)
		}
	}
	if c.RemoteWrite != nil && c.RemoteWrite.URL == "" {
		return configError("remote_write.url is required")
	}
	if c.Server.RateLimit < 0 {
		return configError("server.rate_limit must not be negative")
	}
	return nil
}

// OpenStore builds the report store described by cfg.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*ReportStore, error) {
	var (
		backend StorageBackend
		err     error
	)
	switch cfg.Backend {
	case BackendFile, "":
		path := cfg.Path
		if path == "" {
			path = "cytoqc-reports"
		}
		backend, err = NewFileBackend(path)
	case BackendMemory:
		backend = NewBoundedMemoryBackend(cfg.MaxBytes)
	case BackendS3:
		backend, err = NewS3Backend(ctx, cfg.S3)
	default:
		err = configError("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	enc, err := NewEncryptor(cfg.Encryption)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return NewReportStore(backend, enc, logger), nil
}
