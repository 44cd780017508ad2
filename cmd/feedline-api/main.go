package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ripplelabs/feedline/backend/internal/auth"
	"github.com/ripplelabs/feedline/backend/internal/config"
	"github.com/ripplelabs/feedline/backend/internal/database"
	"github.com/ripplelabs/feedline/backend/internal/docstore"
	"github.com/ripplelabs/feedline/backend/internal/idp"
	"github.com/ripplelabs/feedline/backend/internal/logging"
	"github.com/ripplelabs/feedline/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedline-api",
		Short: "Feedline session-bridge and record-feed service",
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
	cmd.PersistentFlags().String("environment", defaults.GetString("environment"), "Deployment environment (development, production)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("session-ttl-hours", defaults.GetInt("session.ttl_hours"), "Session artifact TTL in hours")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("idp-audience", defaults.GetString("idp.audience"), "Expected assertion audience")
	cmd.PersistentFlags().String("idp-jwks-url", defaults.GetString("idp.jwks_url"), "External provider JWKS URL (empty runs the built-in directory)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "environment", "environment")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.ttl_hours", "session-ttl-hours")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
	bindFlag(cmd, "idp.audience", "idp-audience")
	bindFlag(cmd, "idp.jwks_url", "idp-jwks-url")
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

	revocations, err := auth.NewRevocationStore(db, time.Now)
	if err != nil {
		return err
	}

	minter := auth.NewSessionMinter(auth.SessionMinterConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		SessionTTL:    appConfig.SessionTTL,
	})

	sessionVerifier, err := auth.NewSessionVerifier(auth.SessionVerifierConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
		Revocations:   revocations,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	jwksURL := appConfig.AssertionJWKSURL
	var identityKeys http.Handler
	if jwksURL == "" {
		// Directory mode: the server hosts its own provider and key set. The
		// verifier fetches the keys lazily, after the listener is up.
		directory, err := idp.NewDirectory(idp.DirectoryConfig{
			Database: db,
			Issuer:   appConfig.AllowedIssuers[0],
			Audience: appConfig.AssertionAudience,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		identityKeys = directory.JWKSHandler()
		jwksURL = loopbackJWKSURL(appConfig.HTTPAddress)
		logger.Info("running built-in directory provider", zap.String("jwks_url", jwksURL))
	}

	assertionVerifier, err := auth.NewAssertionVerifier(auth.AssertionVerifierConfig{
		Audience:       appConfig.AssertionAudience,
		JWKSURL:        jwksURL,
		AllowedIssuers: appConfig.AllowedIssuers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	documents, err := docstore.NewGormStore(docstore.GormStoreConfig{
		Database:   db,
		IDProvider: docstore.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Assertions:    assertionVerifier,
		Minter:        minter,
		Sessions:      sessionVerifier,
		Revocations:   revocations,
		Documents:     documents,
		Guard:         server.GuardConfig{CookieName: appConfig.SessionCookieName},
		SecureCookies: appConfig.Production(),
		Logger:        logger,
		IdentityKeys:  identityKeys,
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

// loopbackJWKSURL rewrites a listen address into a loopback URL the
// assertion verifier can fetch the local key set from.
func loopbackJWKSURL(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Sprintf("http://%s/idp/jwks.json", address)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s/idp/jwks.json", net.JoinHostPort(host, port))
}
