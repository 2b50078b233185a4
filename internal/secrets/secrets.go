// Package secrets resolves credential values in configuration. A value may
// be a literal, reference environment variables as ${VAR} or ${VAR:-default},
// or name a file with a "file:" prefix for Docker and systemd credentials.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// FilePrefix marks a value that is read from a file.
const FilePrefix = "file:"

// secret files hold tokens and passwords, never anything large
const maxSecretFileSize = 64 * 1024

// ExpandString replaces ${VAR} and ${VAR:-default} references. A reference
// to an unset variable without a default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, trimming trailing newlines. Files readable
// by group or others are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", errors.Newf("secret file path is empty").
			Category(errors.CategoryConfiguration).
			Build()
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("secret_file", clean).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("secret path is not a regular file: %s", clean).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if info.Size() > maxSecretFileSize {
		return "", errors.Newf("secret file too large (max %d bytes): %s", maxSecretFileSize, clean).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		GetLogger().Warn("Secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("perm", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryFileIO).
			Context("secret_file", clean).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.Newf("secret file is empty: %s", clean).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return secret, nil
}

// Resolve returns the secret a configuration value refers to.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(path)
	}
	return ExpandString(value)
}

// ResolveAll resolves each field in place. The first failure names the field.
func ResolveAll(fields map[string]*string) error {
	for name, field := range fields {
		if field == nil || *field == "" {
			continue
		}
		resolved, err := Resolve(*field)
		if err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("field", name).
				Build()
		}
		*field = resolved
	}
	return nil
}
