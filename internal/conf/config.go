// Package conf loads and validates birdbird settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings contains all configuration options for a batch run.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Logging      logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Detection    DetectionSettings    `mapstructure:"detection" yaml:"detection"`
	Segments     SegmentSettings      `mapstructure:"segments" yaml:"segments"`
	Highlights   HighlightSettings    `mapstructure:"highlights" yaml:"highlights"`
	Windows      WindowSettings       `mapstructure:"windows" yaml:"windows"`
	Publish      PublishSettings      `mapstructure:"publish" yaml:"publish"`
	Storage      StorageSettings      `mapstructure:"storage" yaml:"storage"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	Metrics      MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

// DetectionSettings controls how detector output is located and filtered.
type DetectionSettings struct {
	BirdConfidence float64 `mapstructure:"bird_confidence" yaml:"bird_confidence"` // presence samples below this are negatives
	PresenceFile   string  `mapstructure:"presence_file" yaml:"presence_file"`     // relative to the batch working dir
	SpeciesFile    string  `mapstructure:"species_file" yaml:"species_file"`
	SongsFile      string  `mapstructure:"songs_file" yaml:"songs_file"`
	WorkDir        string  `mapstructure:"work_dir" yaml:"work_dir"` // detector output dir, relative to the batch dir
	ClipPattern    string  `mapstructure:"clip_pattern" yaml:"clip_pattern"`
}

// SegmentSettings describes the presence detector's sampling cadence and merge policy.
// All values are seconds.
type SegmentSettings struct {
	DenseInterval  float64 `mapstructure:"dense_interval" yaml:"dense_interval"`
	DenseWindow    float64 `mapstructure:"dense_window" yaml:"dense_window"`
	SparseInterval float64 `mapstructure:"sparse_interval" yaml:"sparse_interval"`
	MergeThreshold float64 `mapstructure:"merge_threshold" yaml:"merge_threshold"` // 0 means use sparse_interval
	BufferBefore   float64 `mapstructure:"buffer_before" yaml:"buffer_before"`
	BufferAfter    float64 `mapstructure:"buffer_after" yaml:"buffer_after"`
}

// HighlightSettings controls reel assembly.
type HighlightSettings struct {
	Output      string        `mapstructure:"output" yaml:"output"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"` // per transcoder invocation
	StreamCopy  bool          `mapstructure:"stream_copy" yaml:"stream_copy"`
	VideoCodec  string        `mapstructure:"video_codec" yaml:"video_codec"`
	AudioCodec  string        `mapstructure:"audio_codec" yaml:"audio_codec"`
	Preset      string        `mapstructure:"preset" yaml:"preset"`
	CRF         int           `mapstructure:"crf" yaml:"crf"`
	FFmpegPath  string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath string        `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
	ProbeCache  time.Duration `mapstructure:"probe_cache" yaml:"probe_cache"`
}

// WindowSettings controls best-window selection.
type WindowSettings struct {
	Length           float64 `mapstructure:"length" yaml:"length"` // seconds
	VarietyWeight    float64 `mapstructure:"variety_weight" yaml:"variety_weight"`
	ConfidenceWeight float64 `mapstructure:"confidence_weight" yaml:"confidence_weight"`
	CountWeight      float64 `mapstructure:"count_weight" yaml:"count_weight"`
}

// RetrySettings is the single retry policy applied to storage operations.
type RetrySettings struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// PublishSettings controls batch publication.
type PublishSettings struct {
	Prefix        string        `mapstructure:"prefix" yaml:"prefix"`
	IndexKey      string        `mapstructure:"index_key" yaml:"index_key"`
	UploadWorkers int           `mapstructure:"upload_workers" yaml:"upload_workers"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`
	IndexRetries  int           `mapstructure:"index_retries" yaml:"index_retries"`
	Retention     int           `mapstructure:"retention" yaml:"retention"`
	Retry         RetrySettings `mapstructure:"retry" yaml:"retry"`
}

// StorageSettings selects and configures the object store backend.
type StorageSettings struct {
	Backend   string        `mapstructure:"backend" yaml:"backend"` // s3, local, sftp, ftp
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	S3        S3Settings    `mapstructure:"s3" yaml:"s3"`
	Local     LocalSettings `mapstructure:"local" yaml:"local"`
	SFTP      SFTPSettings  `mapstructure:"sftp" yaml:"sftp"`
	FTP       FTPSettings   `mapstructure:"ftp" yaml:"ftp"`
}

// S3Settings configures an S3-compatible endpoint such as Cloudflare R2 or MinIO.
type S3Settings struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
}

// LocalSettings configures a directory-backed store (mounted share, web root).
type LocalSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SFTPSettings configures an SFTP-backed store.
type SFTPSettings struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	KeyFile        string        `mapstructure:"key_file" yaml:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`
	Path           string        `mapstructure:"path" yaml:"path"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// FTPSettings configures an FTP-backed store.
type FTPSettings struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Path     string        `mapstructure:"path" yaml:"path"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NotificationSettings configures shoutrrr publish notices.
type NotificationSettings struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URLs    []string      `mapstructure:"urls" yaml:"urls"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Title   string        `mapstructure:"title" yaml:"title"`     // text/template, empty for the built-in title
	Message string        `mapstructure:"message" yaml:"message"` // text/template, empty for the built-in message
}

// MetricsSettings configures the Prometheus textfile written after each run.
type MetricsSettings struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path"`
}

// SentrySettings configures optional error reporting.
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from the config file, .env and environment,
// applying defaults and validating the result.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets expands credential fields that reference the environment
// or a secret file.
func resolveSecrets(s *Settings) error {
	fields := map[string]*string{
		"storage.s3.access_key_id":     &s.Storage.S3.AccessKeyID,
		"storage.s3.secret_access_key": &s.Storage.S3.SecretAccessKey,
		"storage.sftp.password":        &s.Storage.SFTP.Password,
		"storage.ftp.password":         &s.Storage.FTP.Password,
		"sentry.dsn":                   &s.Sentry.DSN,
	}
	for i := range s.Notification.URLs {
		fields[fmt.Sprintf("notification.urls[%d]", i)] = &s.Notification.URLs[i]
	}
	return secrets.ResolveAll(fields)
}

// GetSettings returns the settings loaded by the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// initViper sets defaults, binds the environment and reads the config file.
// A missing config file is not an error: defaults plus environment suffice for
// a cron-driven run, and `birdbird config init` writes the template on demand.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	// .env values never override variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		GetLogger().Warn("Failed to load .env file", logger.Error(err))
	}

	if err := bindEnvVars(); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("No config file found, using defaults and environment")
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Debug("Loaded config file", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".birdbird"))
	}
	return append(paths, "/etc/birdbird")
}

// DefaultConfig returns the embedded default configuration file.
func DefaultConfig() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// WriteDefaultConfig writes the embedded template to path unless a file exists there.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := DefaultConfig()
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	return writeFileAtomic(path, data, 0o600)
}

// writeFileAtomic writes to a temp file in the target directory and renames it into place
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Chmod(perm); err != nil {
		tempFile.Close()
		return fmt.Errorf("error setting file mode: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, path); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
