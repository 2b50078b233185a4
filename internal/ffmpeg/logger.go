package ffmpeg

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the ffmpeg module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("ffmpeg")
}
