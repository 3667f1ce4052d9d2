package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/ggbconnect/internal/config"
	"github.com/harun/ggbconnect/internal/logger"
	"github.com/harun/ggbconnect/pkg/commandqueue"
	"github.com/harun/ggbconnect/pkg/engine/ggb"
	"github.com/harun/ggbconnect/pkg/gateway"
	"github.com/harun/ggbconnect/pkg/relay"
	"github.com/harun/ggbconnect/pkg/session"
	"github.com/harun/ggbconnect/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GGBConnect service",
	Long: `Run the GGBConnect service in the foreground: the HTTP and websocket
gateway, the engine pool, the session store, and the optional idle session
reaper. Stops cleanly on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	zl := log.GetZerolog()
	zl.Info().Str("version", version).Msg("Starting GGBConnect")

	gw, err := store.NewSQLiteGateway(cfg.Database.Path, zl)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer gw.Close()

	pool, err := ggb.NewPool(ggb.Config{
		AppURL:   cfg.Engine.AppURL,
		Headless: cfg.Engine.Headless,
		Size:     cfg.Engine.PoolSize,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to start engine pool: %w", err)
	}
	defer pool.Close()

	queue := commandqueue.New()
	defer queue.Close()

	manager, err := session.NewManager(session.Config{
		Engines:   pool,
		Gateway:   gw,
		Relay:     relay.New(zl),
		Queue:     queue,
		OpTimeout: time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	var reaper *session.Reaper
	if cfg.Cleanup.Enabled {
		idleAge := time.Duration(cfg.Cleanup.IdleMinutes) * time.Minute
		reaper = session.NewReaper(manager, idleAge, cfg.Cleanup.Schedule, zl)
		if err := reaper.Start(); err != nil {
			return fmt.Errorf("failed to start session reaper: %w", err)
		}
		defer func() {
			if err := reaper.Stop(); err != nil {
				zl.Warn().Err(err).Msg("Failed to stop session reaper")
			}
		}()
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Manager: manager,
		Logger:  zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	// Live log level adjustment on config file edits
	watcher, err := config.NewWatcher(loader, zl, func(updated *config.Config) {
		if logLevel != "" {
			return // explicit flag wins
		}
		if err := log.SetLevel(updated.Logging.Level); err != nil {
			zl.Warn().Err(err).Str("level", updated.Logging.Level).Msg("Ignoring invalid log level from config reload")
		}
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable, continuing without live reload")
	} else if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		defer watcher.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	zl.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	if err := server.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop gateway server")
	}

	zl.Info().Msg("GGBConnect stopped")
	return nil
}
