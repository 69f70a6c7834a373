package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/app"
	"github.com/shizukutanaka/curvedex/internal/config"
	"github.com/shizukutanaka/curvedex/internal/logging"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the market with its HTTP API",
	Long: `Open the ledger and serve the HTTP API, the websocket event stream and the
Prometheus metrics endpoint until interrupted.

The config file is watched: log levels apply immediately, other changes are
picked up on the next restart.

Examples:
  curvedex serve
  curvedex serve --config /etc/curvedex/curvedex.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("no-watch", false, "Do not watch the config file for changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	noWatch, _ := cmd.Flags().GetBool("no-watch")

	manager, factory, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer factory.Sync()
	logger := factory.Logger()
	cfg := manager.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Starting curvedex",
		zap.String("version", Version),
		zap.String("config", cfgFile),
	)

	application, err := app.New(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		application.Close()
		return fmt.Errorf("failed to start application: %w", err)
	}

	if !noWatch {
		manager.OnChange(reloadHandler(logger, factory, cfg))
		if err := manager.StartWatcher(); err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			defer manager.StopWatcher()
		}
	}

	logger.Info("curvedex started successfully")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Starting graceful shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown gracefully", zap.Error(err))
		return err
	}

	logger.Info("curvedex stopped successfully")
	return nil
}

// reloadHandler applies the parts of a reloaded config that can change
// while running and warns about the rest.
func reloadHandler(logger *zap.Logger, factory *logging.LoggerFactory, running *config.Config) func(*config.Config) {
	return func(next *config.Config) {
		if next.Logging.Level != "" && next.Logging.Level != factory.Level().String() {
			if err := factory.SetLevel(next.Logging.Level); err != nil {
				logger.Warn("Ignoring log level", zap.Error(err))
			} else {
				logger.Info("Log level changed", zap.String("level", next.Logging.Level))
			}
		}

		restart := []struct {
			section string
			changed bool
		}{
			{"market", !marketEqual(running.Market, next.Market)},
			{"storage", running.Storage != next.Storage},
			{"api", running.API.ListenAddr != next.API.ListenAddr ||
				running.API.Enabled != next.API.Enabled ||
				running.API.JWTSecret != next.API.JWTSecret},
			{"monitoring", running.Monitoring != next.Monitoring},
		}
		for _, r := range restart {
			if r.changed {
				logger.Warn("Configuration change needs a restart", zap.String("section", r.section))
			}
		}
	}
}

func marketEqual(a, b config.MarketConfig) bool {
	if a.Name != b.Name || a.Symbol != b.Symbol ||
		a.DividendFee != b.DividendFee ||
		a.TokenPriceInitial != b.TokenPriceInitial ||
		a.TokenPriceIncremental != b.TokenPriceIncremental ||
		a.StakingRequirement != b.StakingRequirement ||
		a.RestrictedPhase != b.RestrictedPhase {
		return false
	}
	return slices.Equal(a.Administrators, b.Administrators) && slices.Equal(a.Ambassadors, b.Ambassadors)
}
