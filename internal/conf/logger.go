package conf

import "github.com/rssrn/birdbird/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time so it picks up the
// central logger once it has been configured.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
