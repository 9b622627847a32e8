package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/aggregate"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/config"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/database"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ratings"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/server"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "shipmate-api",
		Short: "Shipmate ship rating backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("identity-audience", defaults.GetString("identity.audience"), "Identity provider audience")
	cmd.PersistentFlags().String("identity-jwks-url", defaults.GetString("identity.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().StringSlice("identity-issuers", defaults.GetStringSlice("identity.issuers"), "Allowed identity token issuers")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "identity.audience", "identity-audience")
	bindFlag(cmd, "identity.jwks_url", "identity-jwks-url")
	bindFlag(cmd, "identity.issuers", "identity-issuers")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
	if err := catalog.VerifyMapping(); err != nil {
		return err
	}

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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	identityVerifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		Audience:       appConfig.IdentityAudience,
		JWKSURL:        appConfig.IdentityJWKSURL,
		AllowedIssuers: appConfig.IdentityIssuers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	profileService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	shipService, err := ships.NewService(ships.ServiceConfig{
		Database:   db,
		IDProvider: ratings.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dispatcher := ratings.NewDeletionDispatcher(logger)
	ratingStore, err := ratings.NewStore(ratings.StoreConfig{
		Database:   db,
		IDProvider: ratings.NewUUIDProvider(),
		Logger:     logger,
		Events:     dispatcher,
	})
	if err != nil {
		return err
	}

	engine, err := aggregate.NewEngine(aggregate.EngineConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ratingService, err := ratings.NewService(ratings.ServiceConfig{
		Store:      ratingStore,
		Ships:      shipService,
		Aggregates: engine,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: identityVerifier,
		TokenManager:     tokenManager,
		Profiles:         profileService,
		Ratings:          ratingService,
		RatingStore:      ratingStore,
		Ships:            shipService,
		Engine:           engine,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deletions, unsubscribe := dispatcher.Subscribe(signalCtx)
	defer unsubscribe()
	go engine.Run(signalCtx, deletions)

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
