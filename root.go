package main

import (
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/nijaru/scriptparser/config"
	"github.com/nijaru/scriptparser/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// commandContext loads configuration and the logger once per invocation.
type commandContext struct {
	configPath *string
	cfg        *config.Config
	log        *logrus.Logger
}

func (c *commandContext) ensure(logOutput io.Writer) (*config.Config, *logrus.Logger, error) {
	if c.cfg != nil {
		return c.cfg, c.log, nil
	}

	envErr := godotenv.Load()
	if envErr != nil && errors.Is(envErr, fs.ErrNotExist) {
		envErr = nil
	}

	path := *c.configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load configuration")
	}

	log, err := logger.New(logger.Options{
		Dir:    cfg.LogDir,
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: logOutput,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "initialize logger")
	}
	if envErr != nil {
		log.WithError(envErr).Warn("Failed to load .env file")
	}

	c.cfg, c.log = cfg, log
	return cfg, log, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configPath: &configFlag}

	serveCmd := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "scriptparser",
		Short:         "Turn short-video links and uploads into transcripts and script breakdowns",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newParseCommand(ctx))

	return rootCmd
}
