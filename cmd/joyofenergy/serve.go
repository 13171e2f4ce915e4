package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kfcemployee/joyofenergy/internal/app"
	"github.com/kfcemployee/joyofenergy/internal/config"
	"github.com/kfcemployee/joyofenergy/internal/logging"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the meter readings HTTP server",
	Long: `Start the HTTP server on server.address:server.port together with the
prometheus listener on metrics.addr. Settings come from defaults, the optional
--config file, JOE_* environment variables and flags, later sources win.`,
	RunE: runServe,
}

// flag name -> config key
var serveFlags = map[string]string{
	"host":      "server.address",
	"port":      "server.port",
	"workers":   "server.workers",
	"log-level": "log.level",
}

func init() {
	rootCmd.AddCommand(serveCmd)

	d := config.DefaultConfig()
	serveCmd.Flags().StringVar(&configPath, "config", "", "Config file (yaml, toml or json)")
	serveCmd.Flags().String("host", d.Server.Address, "Address to bind to")
	serveCmd.Flags().Int("port", d.Server.Port, "Port to listen on")
	serveCmd.Flags().Int("workers", d.Server.Workers, "Number of event loop workers")
	serveCmd.Flags().String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	for name, key := range serveFlags {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	cfg, err := loader.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Log.Format),
		Level:  cfg.Log.Level,
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}

	loader.Watch(func(next *config.Config) {
		if err := logging.SetLevel(next.Log.Level); err != nil {
			logger.Warn().Err(err).Msg("config reload")
			return
		}
		logger.Info().Str("level", next.Log.Level).Msg("config reloaded, listener settings apply on restart")
	}, func(err error) {
		logger.Warn().Err(err).Msg("config reload rejected")
	})

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
