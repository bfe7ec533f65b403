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
	"go.uber.org/zap"

	"github.com/linkport/backend/internal/config"
	"github.com/linkport/backend/internal/database"
	"github.com/linkport/backend/internal/gateway"
	"github.com/linkport/backend/internal/ingest"
	"github.com/linkport/backend/internal/linkedin"
	"github.com/linkport/backend/internal/logging"
	"github.com/linkport/backend/internal/server"
	"github.com/linkport/backend/internal/signer"
	"github.com/linkport/backend/internal/vault"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "linkport-api",
		Short: "LinkPort publishing and analytics backend service",
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
	cmd.PersistentFlags().String("linkedin-client-id", defaults.GetString("linkedin.client_id"), "LinkedIn OAuth client ID")
	cmd.PersistentFlags().String("linkedin-redirect-url", defaults.GetString("linkedin.redirect_url"), "OAuth redirect URL")
	cmd.PersistentFlags().String("linkedin-api-version", defaults.GetString("linkedin.api_version"), "LinkedIn-Version header value")
	cmd.PersistentFlags().String("allowed-origins", "", "Comma-separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "linkedin.client_id", "linkedin-client-id")
	bindFlag(cmd, "linkedin.redirect_url", "linkedin-redirect-url")
	bindFlag(cmd, "linkedin.api_version", "linkedin-api-version")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
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

	provider := linkedin.NewClient(linkedin.Config{
		ClientID:     appConfig.ClientID,
		ClientSecret: appConfig.ClientSecret,
		RedirectURL:  appConfig.RedirectURL,
		Scopes:       appConfig.Scopes,
		APIVersion:   appConfig.APIVersion,
		Logger:       logger,
	})

	credentialVault, err := vault.NewService(vault.ServiceConfig{
		Database: db,
		Key:      appConfig.EncryptionKey,
		Provider: "linkedin",
		Renewer:  provider,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	stateSigner, err := signer.New([]byte(appConfig.StateSigningSecret), nil)
	if err != nil {
		return err
	}

	publishGateway, err := gateway.NewService(gateway.ServiceConfig{
		Database:  db,
		Vault:     credentialVault,
		Publisher: provider,
		Signer:    stateSigner,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ingestService, err := ingest.NewService(ingest.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Database:       db,
		Vault:          credentialVault,
		Signer:         stateSigner,
		Gateway:        publishGateway,
		Ingest:         ingestService,
		Provider:       provider,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
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
