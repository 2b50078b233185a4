package highlights

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the highlights module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("highlights")
}
