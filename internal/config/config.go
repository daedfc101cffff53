package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "NOTESD"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "notesd.db"
	defaultLogLevel        = "info"
	defaultBlobBackend     = BlobBackendFilesystem
	defaultUploadDir       = "data/uploads"
	defaultUploadMaxSizeMB = 700
)

// Blob backend selectors.
const (
	BlobBackendFilesystem = "filesystem"
	BlobBackendS3         = "s3"
)

var defaultPreviewFormats = []string{"pptx"}

// AppConfig captures runtime configuration for the notes service.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	BlobBackend     string
	UploadDir       string
	UploadMaxSizeMB int64
	PreviewFormats  []string
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKeyID   string
	S3SecretKey     string
	S3UsePathStyle  bool
}

// MaxUploadBytes converts the configured megabyte cap to bytes.
func (c AppConfig) MaxUploadBytes() int64 {
	return c.UploadMaxSizeMB * 1024 * 1024
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("blob.backend", defaultBlobBackend)
	configViper.SetDefault("upload.dir", defaultUploadDir)
	configViper.SetDefault("upload.max_size_mb", defaultUploadMaxSizeMB)
	configViper.SetDefault("preview.formats", defaultPreviewFormats)
	configViper.SetDefault("s3.region", "auto")
	configViper.SetDefault("s3.use_path_style", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		BlobBackend:     strings.ToLower(strings.TrimSpace(configViper.GetString("blob.backend"))),
		UploadDir:       configViper.GetString("upload.dir"),
		UploadMaxSizeMB: configViper.GetInt64("upload.max_size_mb"),
		PreviewFormats:  configViper.GetStringSlice("preview.formats"),
		S3Endpoint:      configViper.GetString("s3.endpoint"),
		S3Region:        configViper.GetString("s3.region"),
		S3Bucket:        configViper.GetString("s3.bucket"),
		S3AccessKeyID:   configViper.GetString("s3.access_key_id"),
		S3SecretKey:     configViper.GetString("s3.secret_access_key"),
		S3UsePathStyle:  configViper.GetBool("s3.use_path_style"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.UploadMaxSizeMB <= 0 {
		return fmt.Errorf("upload.max_size_mb must be positive")
	}
	switch c.BlobBackend {
	case BlobBackendFilesystem:
		if strings.TrimSpace(c.UploadDir) == "" {
			return fmt.Errorf("upload.dir is required for the filesystem blob backend")
		}
	case BlobBackendS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			return fmt.Errorf("s3.bucket is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("blob.backend must be %q or %q", BlobBackendFilesystem, BlobBackendS3)
	}
	return nil
}
