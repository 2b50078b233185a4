package detection

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the detection module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("detection")
}
