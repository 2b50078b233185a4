package segments

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the segments module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("segments")
}
