package conf

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/rssrn/birdbird/internal/logger"
)

// LookupTool finds an external binary such as ffmpeg. A configured path wins
// when it names a regular file; otherwise name is searched on PATH, with the
// .exe suffix on Windows.
func LookupTool(configured, name string) (string, error) {
	if configured != "" {
		if fi, err := os.Stat(configured); err == nil && fi.Mode().IsRegular() {
			return configured, nil
		}
		GetLogger().Warn("Configured tool path not usable, searching PATH",
			logger.String("tool", name),
			logger.String("configured_path", configured))
	}

	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	found, err := exec.LookPath(name)
	if err != nil {
		if configured != "" {
			return "", fmt.Errorf("%s not found at %q or on PATH", name, configured)
		}
		return "", fmt.Errorf("%s not found on PATH", name)
	}
	return found, nil
}
