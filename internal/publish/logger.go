package publish

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the publish module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("publish")
}
