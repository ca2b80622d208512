// Package config loads the application configuration from defaults, a YAML
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable, e.g. TRUELICENSE_STORE_PATH
const EnvPrefix = "TRUELICENSE"

// Config represents the complete application configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging" split_words:"true"`
	License    LicenseConfig    `yaml:"license" split_words:"true"`
	Store      StoreConfig      `yaml:"store" split_words:"true"`
	Keystore   KeystoreConfig   `yaml:"keystore" split_words:"true"`
	Encryption EncryptionConfig `yaml:"encryption" split_words:"true"`
	Trial      TrialConfig      `yaml:"trial" split_words:"true"`
	Server     ServerConfig     `yaml:"server" split_words:"true"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" split_words:"true" validate:"oneof=json text"`
	Output   string `yaml:"output" split_words:"true" validate:"oneof=stdout stderr file both"`
	FilePath string `yaml:"file_path" split_words:"true" validate:"required_if=Output file,required_if=Output both"`
}

// LicenseConfig contains the license management parameters shared by the
// vendor and consumer roles
type LicenseConfig struct {
	Subject          string          `yaml:"subject" split_words:"true" validate:"required"`
	CachePeriod      time.Duration   `yaml:"cache_period" split_words:"true" validate:"gte=0"`
	Codec            string          `yaml:"codec" split_words:"true" validate:"oneof=json yaml"`
	Compression      string          `yaml:"compression" split_words:"true" validate:"oneof=gzip zstd lz4 none"`
	CompressionLevel int             `yaml:"compression_level" split_words:"true" validate:"gte=0,lte=22"`
	Format           string          `yaml:"format" split_words:"true" validate:"oneof=basic jws"`
	PasswordPolicy   string          `yaml:"password_policy" split_words:"true" validate:"oneof=minimum none"`
	RateLimit        RateLimitConfig `yaml:"rate_limit" split_words:"true"`
}

// RateLimitConfig throttles generate and install attempts
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" split_words:"true"`
	RPS     float64 `yaml:"rps" split_words:"true" validate:"gte=0"`
	Burst   int     `yaml:"burst" split_words:"true" validate:"gte=0"`
}

// StoreConfig selects where a license key is kept
type StoreConfig struct {
	Kind          string `yaml:"kind" split_words:"true" validate:"oneof=memory file badger redis"`
	Path          string `yaml:"path" split_words:"true" validate:"required_if=Kind file"`
	Key           string `yaml:"key" split_words:"true"`
	RedisAddr     string `yaml:"redis_addr" split_words:"true" validate:"required_if=Kind redis"`
	RedisPassword string `yaml:"redis_password" split_words:"true"`
	RedisDB       int    `yaml:"redis_db" split_words:"true" validate:"gte=0"`
}

// KeystoreConfig locates the key store entry used for signing or verifying
type KeystoreConfig struct {
	Path        string `yaml:"path" split_words:"true"`
	Type        string `yaml:"type" split_words:"true" validate:"omitempty,oneof=PKCS12 PEM pkcs12 pem"`
	Alias       string `yaml:"alias" split_words:"true" validate:"required"`
	Password    string `yaml:"password" split_words:"true" validate:"required"`
	KeyPassword string `yaml:"key_password" split_words:"true"`
	Algorithm   string `yaml:"algorithm" split_words:"true"`
}

// EncryptionConfig contains the password based encryption parameters. An
// empty password means the encryption is inherited where that is possible.
type EncryptionConfig struct {
	Algorithm string `yaml:"algorithm" split_words:"true" validate:"omitempty,oneof=AES-256-GCM ChaCha20-Poly1305"`
	Password  string `yaml:"password" split_words:"true"`
	ScryptN   int    `yaml:"scrypt_n" split_words:"true" validate:"gte=0"`
	ScryptR   int    `yaml:"scrypt_r" split_words:"true" validate:"gte=0,lte=255"`
	ScryptP   int    `yaml:"scrypt_p" split_words:"true" validate:"gte=0,lte=255"`
}

// TrialConfig enables the free trial period. With Days set to zero no trial
// license is ever generated.
type TrialConfig struct {
	Days       int              `yaml:"days" split_words:"true" validate:"gte=0"`
	Subject    string           `yaml:"subject" split_words:"true"`
	Store      StoreConfig      `yaml:"store" split_words:"true"`
	Keystore   KeystoreConfig   `yaml:"keystore" split_words:"true" validate:"-"`
	Encryption EncryptionConfig `yaml:"encryption" split_words:"true"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" split_words:"true" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
	MaxKeyBytes     int64         `yaml:"max_key_bytes" split_words:"true" validate:"gt=0"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled" split_words:"true"`
	ServiceName    string  `yaml:"service_name" split_words:"true" validate:"required"`
	Environment    string  `yaml:"environment" split_words:"true"`
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true" validate:"gte=0,lte=1"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		License: LicenseConfig{
			CachePeriod:    30 * time.Minute,
			Codec:          "json",
			Compression:    "gzip",
			Format:         "basic",
			PasswordPolicy: "minimum",
			RateLimit: RateLimitConfig{
				RPS:   1,
				Burst: 5,
			},
		},
		Store: StoreConfig{
			Kind: "file",
			Path: "license.key",
			Key:  "license",
		},
		Keystore: KeystoreConfig{
			Type: "PKCS12",
		},
		Encryption: EncryptionConfig{
			Algorithm: "AES-256-GCM",
			ScryptN:   32768,
			ScryptR:   8,
			ScryptP:   1,
		},
		Trial: TrialConfig{
			Store: StoreConfig{
				Kind: "file",
				Path: "trial.key",
				Key:  "trial",
			},
			Keystore: KeystoreConfig{
				Type: "PKCS12",
			},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxKeyBytes:     1 << 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "truelicense",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and TRUELICENSE_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Keys derive from field names only. Explicit envconfig tags would make
	// envconfig fall back to unprefixed variables such as PATH.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, c)
}

// Validate checks field constraints and the cross field rules that tags
// cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Encryption.Password == "" {
		return errors.New("encryption.password is required")
	}
	if n := c.Encryption.ScryptN; n != 0 && n&(n-1) != 0 {
		return fmt.Errorf("encryption.scrypt_n must be a power of two: %d", n)
	}
	if c.Trial.Days > 0 && c.Trial.Keystore.Alias == "" {
		return errors.New("trial.keystore.alias is required when trial.days is set")
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// formatFieldError formats validation error messages
func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
