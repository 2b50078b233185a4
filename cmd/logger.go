package cmd

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the cli module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("cli")
}
