// conf/validate.go

package conf

import (
	"fmt"
	"slices"
)

// Storage backend names
const (
	BackendS3    = "s3"
	BackendLocal = "local"
	BackendSFTP  = "sftp"
	BackendFTP   = "ftp"
)

// SupportedBackends lists the accepted values of storage.backend
var SupportedBackends = []string{BackendS3, BackendLocal, BackendSFTP, BackendFTP}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateDetectionSettings(&s.Detection) },
		func(s *Settings) error { return validateSegmentSettings(&s.Segments) },
		func(s *Settings) error { return validateHighlightSettings(&s.Highlights) },
		func(s *Settings) error { return validateWindowSettings(&s.Windows) },
		func(s *Settings) error { return validatePublishSettings(&s.Publish) },
		func(s *Settings) error { return validateStorageSettings(&s.Storage) },
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDetectionSettings(s *DetectionSettings) error {
	if s.BirdConfidence < 0 || s.BirdConfidence > 1 {
		return fmt.Errorf("detection.bird_confidence must be between 0 and 1, got %g", s.BirdConfidence)
	}
	return nil
}

func validateSegmentSettings(s *SegmentSettings) error {
	if s.DenseInterval <= 0 || s.SparseInterval <= 0 {
		return fmt.Errorf("segments sampling intervals must be positive")
	}
	if s.DenseWindow < 0 {
		return fmt.Errorf("segments.dense_window must not be negative")
	}
	if s.MergeThreshold < 0 || s.BufferBefore < 0 || s.BufferAfter < 0 {
		return fmt.Errorf("segments merge threshold and buffers must not be negative")
	}
	return nil
}

func validateHighlightSettings(s *HighlightSettings) error {
	if s.Workers < 1 {
		return fmt.Errorf("highlights.workers must be at least 1, got %d", s.Workers)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("highlights.timeout must be positive")
	}
	if s.Output == "" {
		return fmt.Errorf("highlights.output must be set")
	}
	return nil
}

func validateWindowSettings(s *WindowSettings) error {
	if s.Length <= 0 {
		return fmt.Errorf("windows.length must be positive, got %g", s.Length)
	}
	if s.VarietyWeight < 0 || s.ConfidenceWeight < 0 || s.CountWeight < 0 {
		return fmt.Errorf("windows weights must not be negative")
	}
	if s.VarietyWeight+s.ConfidenceWeight+s.CountWeight == 0 {
		return fmt.Errorf("at least one windows weight must be positive")
	}
	return nil
}

func validatePublishSettings(s *PublishSettings) error {
	if s.Retention < 1 {
		return fmt.Errorf("publish.retention must be at least 1, got %d", s.Retention)
	}
	if s.UploadWorkers < 1 {
		return fmt.Errorf("publish.upload_workers must be at least 1, got %d", s.UploadWorkers)
	}
	if s.UploadTimeout <= 0 {
		return fmt.Errorf("publish.upload_timeout must be positive")
	}
	if s.IndexKey == "" || s.Prefix == "" {
		return fmt.Errorf("publish.index_key and publish.prefix must be set")
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("publish.retry.max_attempts must be at least 1")
	}
	if s.Retry.Multiplier < 1 {
		return fmt.Errorf("publish.retry.multiplier must be at least 1")
	}
	return nil
}

func validateStorageSettings(s *StorageSettings) error {
	if !slices.Contains(SupportedBackends, s.Backend) {
		return fmt.Errorf("storage.backend %q is not one of %v", s.Backend, SupportedBackends)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("storage.rate_limit must not be negative")
	}
	return nil
}

// ValidateBackend checks the settings of the selected backend. It is only
// enforced by commands that touch remote storage, so local processing runs
// need no credentials.
func (s *StorageSettings) ValidateBackend() error {
	switch s.Backend {
	case BackendS3:
		if s.S3.Bucket == "" || s.S3.Endpoint == "" {
			return fmt.Errorf("storage.s3 requires endpoint and bucket")
		}
	case BackendLocal:
		if s.Local.Path == "" {
			return fmt.Errorf("storage.local.path must be set")
		}
	case BackendSFTP:
		if s.SFTP.Host == "" || s.SFTP.Username == "" {
			return fmt.Errorf("storage.sftp requires host and username")
		}
		if s.SFTP.Password == "" && s.SFTP.KeyFile == "" {
			return fmt.Errorf("storage.sftp requires a password or key_file")
		}
	case BackendFTP:
		if s.FTP.Host == "" {
			return fmt.Errorf("storage.ftp.host must be set")
		}
	}
	return nil
}
