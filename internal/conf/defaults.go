// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default tunables shared with packages that construct their own options.
const (
	DefaultBirdConfidence   = 0.2
	DefaultDenseInterval    = 0.25
	DefaultDenseWindow      = 1.0
	DefaultSparseInterval   = 1.0
	DefaultWindowLength     = 30.0
	DefaultRetention        = 5
	DefaultExtractWorkers   = 4
	DefaultUploadWorkers    = 4
	DefaultIndexKey         = "latest.json"
	DefaultBatchPrefix      = "batches"
	DefaultHighlightsName   = "highlights.mp4"
	DefaultTranscodeTimeout = 2 * time.Minute
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.console.json", false)
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/birdbird.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("detection.bird_confidence", DefaultBirdConfidence)
	viper.SetDefault("detection.work_dir", "birdbird/working")
	viper.SetDefault("detection.presence_file", "filter/detections.json")
	viper.SetDefault("detection.species_file", "species/species.json")
	viper.SetDefault("detection.songs_file", "songs/songs.json")
	viper.SetDefault("detection.clip_pattern", "*.avi")

	viper.SetDefault("segments.dense_interval", DefaultDenseInterval)
	viper.SetDefault("segments.dense_window", DefaultDenseWindow)
	viper.SetDefault("segments.sparse_interval", DefaultSparseInterval)
	viper.SetDefault("segments.merge_threshold", 0.0)
	viper.SetDefault("segments.buffer_before", 0.0)
	viper.SetDefault("segments.buffer_after", 0.0)

	viper.SetDefault("highlights.output", "birdbird/assets/"+DefaultHighlightsName)
	viper.SetDefault("highlights.workers", DefaultExtractWorkers)
	viper.SetDefault("highlights.timeout", DefaultTranscodeTimeout)
	viper.SetDefault("highlights.stream_copy", true)
	viper.SetDefault("highlights.video_codec", "libx264")
	viper.SetDefault("highlights.audio_codec", "aac")
	viper.SetDefault("highlights.preset", "fast")
	viper.SetDefault("highlights.crf", 18)
	viper.SetDefault("highlights.ffmpeg_path", "")
	viper.SetDefault("highlights.ffprobe_path", "")
	viper.SetDefault("highlights.probe_cache", 30*time.Minute)

	viper.SetDefault("windows.length", DefaultWindowLength)
	viper.SetDefault("windows.variety_weight", 1.0)
	viper.SetDefault("windows.confidence_weight", 1.0)
	viper.SetDefault("windows.count_weight", 1.0)

	viper.SetDefault("publish.prefix", DefaultBatchPrefix)
	viper.SetDefault("publish.index_key", DefaultIndexKey)
	viper.SetDefault("publish.upload_workers", DefaultUploadWorkers)
	viper.SetDefault("publish.upload_timeout", 10*time.Minute)
	viper.SetDefault("publish.index_retries", 3)
	viper.SetDefault("publish.retention", DefaultRetention)
	viper.SetDefault("publish.retry.max_attempts", 4)
	viper.SetDefault("publish.retry.initial_delay", 500*time.Millisecond)
	viper.SetDefault("publish.retry.max_delay", 30*time.Second)
	viper.SetDefault("publish.retry.multiplier", 2.0)

	viper.SetDefault("storage.backend", "s3")
	viper.SetDefault("storage.rate_limit", 20.0)
	viper.SetDefault("storage.rate_burst", 10)
	viper.SetDefault("storage.s3.region", "auto")
	viper.SetDefault("storage.s3.use_ssl", true)
	viper.SetDefault("storage.s3.path_style", false)
	viper.SetDefault("storage.local.path", "")
	viper.SetDefault("storage.sftp.port", 22)
	viper.SetDefault("storage.sftp.timeout", 30*time.Second)
	viper.SetDefault("storage.ftp.port", 21)
	viper.SetDefault("storage.ftp.timeout", 30*time.Second)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.timeout", 10*time.Second)
	viper.SetDefault("notification.title", "")
	viper.SetDefault("notification.message", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.textfile_path", "")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
