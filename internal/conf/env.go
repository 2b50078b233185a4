// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVars   []string           // Environment variable names, first match wins
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation.
// The R2_* names are accepted for compatibility with existing deployments.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", []string{"BIRDBIRD_DEBUG"}, validateEnvBool},
		{"logging.default_level", []string{"BIRDBIRD_LOG_LEVEL"}, validateEnvLogLevel},

		{"storage.backend", []string{"BIRDBIRD_STORAGE_BACKEND"}, validateEnvBackend},
		{"storage.s3.endpoint", []string{"BIRDBIRD_S3_ENDPOINT", "R2_ENDPOINT"}, validateEnvEndpoint},
		{"storage.s3.bucket", []string{"BIRDBIRD_S3_BUCKET", "R2_BUCKET_NAME"}, nil},
		{"storage.s3.access_key_id", []string{"BIRDBIRD_S3_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID"}, nil},
		{"storage.s3.secret_access_key", []string{"BIRDBIRD_S3_SECRET_ACCESS_KEY", "R2_SECRET_ACCESS_KEY"}, nil},
		{"storage.local.path", []string{"BIRDBIRD_LOCAL_PATH"}, nil},
		{"storage.sftp.password", []string{"BIRDBIRD_SFTP_PASSWORD"}, nil},
		{"storage.ftp.password", []string{"BIRDBIRD_FTP_PASSWORD"}, nil},

		{"publish.retention", []string{"BIRDBIRD_RETENTION"}, validateEnvPositiveInt},
		{"highlights.workers", []string{"BIRDBIRD_EXTRACT_WORKERS"}, validateEnvPositiveInt},
		{"publish.upload_workers", []string{"BIRDBIRD_UPLOAD_WORKERS"}, validateEnvPositiveInt},

		{"sentry.dsn", []string{"BIRDBIRD_SENTRY_DSN", "SENTRY_DSN"}, nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		args := slices.Concat([]string{binding.ConfigKey}, binding.EnvVars)
		if err := viper.BindEnv(args...); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.ConfigKey, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		for _, envVar := range binding.EnvVars {
			envValue := os.Getenv(envVar)
			if envValue == "" {
				continue
			}
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", envVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log level must be one of trace, debug, info, warn, error")
}

func validateEnvBackend(value string) error {
	if !slices.Contains(SupportedBackends, value) {
		return fmt.Errorf("backend must be one of %v", SupportedBackends)
	}
	return nil
}

func validateEnvEndpoint(value string) error {
	if strings.Contains(value, "://") {
		u, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid endpoint URL: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("endpoint URL has no host")
		}
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}
