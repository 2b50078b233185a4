package pipeline

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the pipeline module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("pipeline")
}
