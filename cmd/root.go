// Package cmd assembles the birdbird command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rssrn/birdbird/cmd/cleanup"
	"github.com/rssrn/birdbird/cmd/configinit"
	"github.com/rssrn/birdbird/cmd/index"
	"github.com/rssrn/birdbird/cmd/process"
	"github.com/rssrn/birdbird/cmd/publish"
	"github.com/rssrn/birdbird/internal/buildinfo"
	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// RootCommand creates and returns the root command. Subcommands share
// settings, which is filled in from config before any of them runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "birdbird",
		Short:        "Bird feeder highlights reels",
		Long:         "birdbird turns a batch of motion-triggered feeder clips into a highlights reel\nwith per-species best windows, and publishes it to object storage.",
		Version:      build.String(),
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings, &configFile); err != nil {
		GetLogger().Warn("Failed to bind flags", logger.Error(err))
	}

	rootCmd.AddCommand(
		process.Command(settings),
		publish.Command(settings),
		cleanup.Command(settings),
		index.Command(settings),
		configinit.Command(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init must work before a config exists
		if configinit.SkipsConfig(cmd) {
			return nil
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		return initialize(settings, build)
	}

	return rootCmd
}

// initialize loads configuration and sets up logging and error reporting.
func initialize(settings *conf.Settings, build *buildinfo.Context) error {
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	*settings = *loaded

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, build.Release()); err != nil {
			GetLogger().Warn("Error reporting disabled", logger.Error(err))
		}
	}

	GetLogger().Debug("Configuration loaded",
		logger.String("version", build.GetVersion()),
		logger.String("backend", settings.Storage.Backend))
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings, configFile *string) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&settings.Storage.Backend, "backend", viper.GetString("storage.backend"), "Object store backend: s3, local, sftp or ftp")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("storage.backend", rootCmd.PersistentFlags().Lookup("backend")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
