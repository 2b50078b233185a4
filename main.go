package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rssrn/birdbird/cmd"
	"github.com/rssrn/birdbird/internal/buildinfo"
	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer errors.FlushSentry(2 * time.Second)

	settings := &conf.Settings{}
	rootCmd := cmd.RootCommand(settings, buildinfo.NewContext(version, buildDate))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
