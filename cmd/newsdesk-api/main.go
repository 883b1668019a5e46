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

	"github.com/lumeoagency/newsdesk/backend/internal/auth"
	"github.com/lumeoagency/newsdesk/backend/internal/config"
	"github.com/lumeoagency/newsdesk/backend/internal/database"
	"github.com/lumeoagency/newsdesk/backend/internal/logging"
	"github.com/lumeoagency/newsdesk/backend/internal/news"
	"github.com/lumeoagency/newsdesk/backend/internal/notify"
	"github.com/lumeoagency/newsdesk/backend/internal/platform"
	"github.com/lumeoagency/newsdesk/backend/internal/realtime"
	"github.com/lumeoagency/newsdesk/backend/internal/server"
	"github.com/lumeoagency/newsdesk/backend/internal/storage"
	"github.com/lumeoagency/newsdesk/backend/internal/translate"
	"github.com/lumeoagency/newsdesk/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "newsdesk-api",
		Short: "Newsdesk publishing and notification backend",
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
	cmd.PersistentFlags().String("facebook-page-id", defaults.GetString("facebook.page_id"), "Facebook page id to publish to")
	cmd.PersistentFlags().String("instagram-account-id", defaults.GetString("instagram.account_id"), "Instagram business account id")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Object storage bucket for post media")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "facebook.page_id", "facebook-page-id")
	bindFlag(cmd, "instagram.account_id", "instagram-account-id")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
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

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	store, err := storage.NewS3Store(storage.S3Config{
		Region:          appConfig.StorageRegion,
		Bucket:          appConfig.StorageBucket,
		AccessKeyID:     appConfig.StorageAccessKey,
		SecretAccessKey: appConfig.StorageSecretKey,
		Endpoint:        appConfig.StorageEndpoint,
	})
	if err != nil {
		return err
	}

	var translator translate.Translator
	if appConfig.TranslateEndpoint != "" {
		httpClient, err := translate.NewHTTPClient(translate.HTTPClientConfig{
			Endpoint: appConfig.TranslateEndpoint,
			AuthKey:  appConfig.TranslateAuthKey,
		})
		if err != nil {
			return err
		}
		translator = httpClient
	}

	var facebook platform.Publisher
	if appConfig.FacebookPageID != "" {
		adapter, err := platform.NewFacebookAdapter(platform.FacebookConfig{
			BaseURL: appConfig.GraphBaseURL,
			PageID:  appConfig.FacebookPageID,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		facebook = adapter
	}
	var instagram platform.Publisher
	if appConfig.InstagramAccountID != "" {
		adapter, err := platform.NewInstagramAdapter(platform.InstagramConfig{
			BaseURL:   appConfig.GraphBaseURL,
			AccountID: appConfig.InstagramAccountID,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		instagram = adapter
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	newsService, err := news.NewService(news.ServiceConfig{
		Database:     db,
		Storage:      store,
		Translator:   translator,
		Facebook:     facebook,
		Instagram:    instagram,
		Access:       usersService,
		Logger:       logger,
		TargetLocale: appConfig.TargetLocale,
	})
	if err != nil {
		return err
	}

	dispatcher := realtime.NewDispatcher()

	sender := notify.NewWebPushSender(notify.WebPushConfig{
		VAPIDPublicKey:  appConfig.VAPIDPublicKey,
		VAPIDPrivateKey: appConfig.VAPIDPrivateKey,
		Subscriber:      appConfig.PushSubscriber,
	})

	notifyConfig := notify.ServiceConfig{
		Database:    db,
		Resolver:    usersService,
		Broadcaster: server.NotificationBroadcaster{Dispatcher: dispatcher},
		Logger:      logger,
	}
	if sender != nil {
		notifyConfig.Sender = sender
	}
	notifyService, err := notify.NewService(notifyConfig)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator:     validator,
		NewsService:   newsService,
		NotifyService: notifyService,
		UsersService:  usersService,
		Dispatcher:    dispatcher,
		Logger:        logger,
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
