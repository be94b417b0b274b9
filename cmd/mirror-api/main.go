package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tracklabs/toggl-mirror/backend/internal/auth"
	"github.com/tracklabs/toggl-mirror/backend/internal/config"
	"github.com/tracklabs/toggl-mirror/backend/internal/database"
	"github.com/tracklabs/toggl-mirror/backend/internal/entries"
	"github.com/tracklabs/toggl-mirror/backend/internal/logging"
	"github.com/tracklabs/toggl-mirror/backend/internal/mirror"
	"github.com/tracklabs/toggl-mirror/backend/internal/server"
	"github.com/tracklabs/toggl-mirror/backend/internal/toggl"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mirror-api",
		Short: "Toggl time-tracking mirror service",
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
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotating log file path")
	cmd.PersistentFlags().String("toggl-api-token", "", "Toggl API token (overrides env)")
	cmd.PersistentFlags().String("toggl-workspace-id", defaults.GetString("toggl.workspace_id"), "Toggl workspace identifier")
	cmd.PersistentFlags().String("toggl-base-url", defaults.GetString("toggl.base_url"), "Toggl API base URL")
	cmd.PersistentFlags().String("sync-start-date", defaults.GetString("sync.start_date"), "First calendar date covered by a full sync (YYYY-MM-DD)")
	cmd.PersistentFlags().Int("sync-recent-days", defaults.GetInt("sync.recent_days"), "Lookback window for recent syncs in days")
	cmd.PersistentFlags().Int64("sync-page-size", defaults.GetInt64("sync.page_size"), "Report page size per upstream request")
	cmd.PersistentFlags().Bool("auth-disabled", defaults.GetBool("auth.disabled"), "Disable the access guard")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "toggl.api_token", "toggl-api-token")
	bindFlag(cmd, "toggl.workspace_id", "toggl-workspace-id")
	bindFlag(cmd, "toggl.base_url", "toggl-base-url")
	bindFlag(cmd, "sync.start_date", "sync-start-date")
	bindFlag(cmd, "sync.recent_days", "sync-recent-days")
	bindFlag(cmd, "sync.page_size", "sync-page-size")
	bindFlag(cmd, "auth.disabled", "auth-disabled")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
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

	entriesService, err := entries.NewService(entries.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	togglClient := toggl.NewClient(toggl.ClientConfig{
		APIToken:    appConfig.TogglAPIToken,
		WorkspaceID: appConfig.TogglWorkspaceID,
		BaseURL:     appConfig.TogglBaseURL,
		Logger:      logger,
	})
	projectResolver := toggl.NewProjectResolver(togglClient, logger)

	mirrorService, err := mirror.NewService(mirror.ServiceConfig{
		Source:     togglClient,
		Store:      entriesService,
		Resolver:   projectResolver,
		RunIDs:     mirror.NewUUIDRunIDProvider(),
		Logger:     logger,
		StartDate:  appConfig.SyncStartDate,
		RecentDays: appConfig.SyncRecentDays,
		PageSize:   appConfig.SyncPageSize,
	})
	if err != nil {
		return err
	}

	guard, err := buildGuard(appConfig, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Entries: entriesService,
		Mirror:  mirrorService,
		Guard:   guard,
		Events:  server.NewSyncEventDispatcher(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

func buildGuard(appConfig config.AppConfig, logger *zap.Logger) (*auth.Guard, error) {
	var serviceTokens *auth.ServiceTokenValidator
	if appConfig.ServiceTokenID != "" {
		validator, err := auth.NewServiceTokenValidator(auth.ServiceTokenValidatorConfig{
			ClientID:     appConfig.ServiceTokenID,
			ClientSecret: appConfig.ServiceTokenSecret,
		})
		if err != nil {
			return nil, err
		}
		serviceTokens = validator
	}

	var assertions *auth.AccessVerifier
	if appConfig.AccessTeamDomain != "" {
		verifier, err := auth.NewAccessVerifier(auth.AccessVerifierConfig{
			Audience:   appConfig.AccessAudience,
			TeamDomain: appConfig.AccessTeamDomain,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		assertions = verifier
	}

	return auth.NewGuard(auth.GuardConfig{
		Disabled:      appConfig.AuthDisabled,
		ServiceTokens: serviceTokens,
		Assertions:    assertions,
	}), nil
}
