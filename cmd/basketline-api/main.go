package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basketline/backend/internal/agent"
	"github.com/basketline/backend/internal/automation"
	"github.com/basketline/backend/internal/cart"
	"github.com/basketline/backend/internal/collector"
	"github.com/basketline/backend/internal/config"
	"github.com/basketline/backend/internal/connector"
	"github.com/basketline/backend/internal/database"
	"github.com/basketline/backend/internal/logging"
	"github.com/basketline/backend/internal/orders"
	"github.com/basketline/backend/internal/runs"
	"github.com/basketline/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "basketline-api",
		Short: "Basketline cart coordination backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("automation-base-url", defaults.GetString("automation.base_url"), "Browser automation service base URL")
	cmd.PersistentFlags().Int("collector-interval-seconds", defaults.GetInt("collector.interval_seconds"), "Cart collection interval in seconds (0 disables)")
	cmd.PersistentFlags().String("collector-platforms", defaults.GetString("collector.platforms"), "Comma-separated platforms to collect (empty uses connected platforms)")
	cmd.PersistentFlags().String("screenshots-dir", defaults.GetString("screenshots.dir"), "Directory for agent run screenshots")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "automation.base_url", "automation-base-url")
	bindFlag(cmd, "collector.interval_seconds", "collector-interval-seconds")
	bindFlag(cmd, "collector.platforms", "collector-platforms")
	bindFlag(cmd, "screenshots.dir", "screenshots-dir")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := cart.NewUUIDProvider()

	cartService, err := cart.NewService(cart.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	connectorService, err := connector.NewService(connector.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	orderService, err := orders.NewService(orders.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	runTracker, err := runs.NewTracker(runs.TrackerConfig{
		Database:       db,
		Clock:          time.Now,
		IDProvider:     idProvider,
		ScreenshotsDir: appConfig.ScreenshotsDir,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewCartEventDispatcher()

	automationClient, err := automation.NewClient(automation.ClientConfig{
		BaseURL: appConfig.AutomationBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	browserFallback, err := agent.NewBrowserFallback(automationClient, logger)
	if err != nil {
		return err
	}

	cartAgent, err := agent.New(agent.Config{
		Client:   automationClient,
		Fallback: browserFallback,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		CartService:      cartService,
		ConnectorService: connectorService,
		OrderService:     orderService,
		RunTracker:       runTracker,
		Events:           dispatcher,
		Agent:            cartAgent,
		Automation:       automationClient,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if appConfig.CollectorInterval > 0 {
		cartCollector, err := collector.New(collector.Config{
			Carts:      cartService,
			Automation: automationClient,
			Connectors: connectorService,
			Platforms:  appConfig.CollectorPlatforms,
			Interval:   appConfig.CollectorInterval,
			Notify: func(platform cart.Platform, cartType cart.CartType, result cart.SnapshotResult) {
				event := server.CartEvent{
					Platform:   platform.String(),
					CartType:   cartType.String(),
					EventType:  server.CartEventSnapshotCaptured,
					SnapshotID: result.Snapshot.ID,
					HasChanges: result.HasChanges,
					Timestamp:  result.Snapshot.CapturedAt,
				}
				dispatcher.Publish(event)
				if result.HasChanges {
					event.EventType = server.CartEventCartChanged
					dispatcher.Publish(event)
				}
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		go cartCollector.Run(signalCtx)
		logger.Info("collector started",
			zap.Duration("interval", appConfig.CollectorInterval),
			zap.Strings("platforms", appConfig.CollectorPlatforms))
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
