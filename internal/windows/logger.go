package windows

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the windows module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("windows")
}
