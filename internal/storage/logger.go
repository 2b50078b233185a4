package storage

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the storage module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("storage")
}
