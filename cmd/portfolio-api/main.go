package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-blog/backend/internal/cache"
	"github.com/portfolio-blog/backend/internal/config"
	"github.com/portfolio-blog/backend/internal/counters"
	"github.com/portfolio-blog/backend/internal/database"
	"github.com/portfolio-blog/backend/internal/events"
	"github.com/portfolio-blog/backend/internal/logging"
	"github.com/portfolio-blog/backend/internal/posts"
	"github.com/portfolio-blog/backend/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portfolio-api",
		Short: "Blog view and reaction counter service",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Counter database driver (sqlite, mysql)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "MySQL data source name")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("content-dir", defaults.GetString("content.dir"), "Directory holding blog posts")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")
	cmd.PersistentFlags().StringSlice("redis-addrs", nil, "Redis addresses for the stats cache (empty disables it)")
	cmd.PersistentFlags().StringSlice("kafka-brokers", nil, "Kafka brokers for counter events (empty disables them)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "content.dir", "content-dir")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "redis.addrs", "redis-addrs")
	bindFlag(cmd, "kafka.brokers", "kafka-brokers")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := counters.NewStore(db, time.Now)
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	notifiers := counters.Notifiers{realtime}

	serviceConfig := counters.ServiceConfig{
		Store:  store,
		Clock:  time.Now,
		Logger: logger,
	}

	if len(appConfig.RedisAddrs) > 0 {
		redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    appConfig.RedisAddrs,
			Password: appConfig.RedisPassword,
		})
		defer redisClient.Close()

		statsCache, err := cache.NewRedisStatsCache(cache.RedisStatsCacheConfig{
			Client:  redisClient,
			BaseTTL: appConfig.CacheTTL,
			Jitter:  cache.DefaultJitter,
			Logger:  logger.Named("cache"),
		})
		if err != nil {
			return err
		}
		serviceConfig.Cache = statsCache
		logger.Info("stats cache enabled", zap.Strings("addrs", appConfig.RedisAddrs))
	}

	if len(appConfig.KafkaBrokers) > 0 {
		producer, err := events.NewSyncProducer(appConfig.KafkaBrokers)
		if err != nil {
			return err
		}
		publisher, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Producer: producer,
			Topic:    appConfig.KafkaTopic,
			Logger:   logger.Named("events"),
		})
		if err != nil {
			_ = producer.Close()
			return err
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
		logger.Info("counter events enabled",
			zap.Strings("brokers", appConfig.KafkaBrokers),
			zap.String("topic", appConfig.KafkaTopic))
	}
	serviceConfig.Notifier = notifiers

	countersService, err := counters.NewService(serviceConfig)
	if err != nil {
		return err
	}

	catalog := posts.NewCatalog(posts.CatalogConfig{
		Dir:           appConfig.ContentDir,
		DefaultAuthor: appConfig.DefaultAuthor,
		Logger:        logger.Named("posts"),
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		CountersService: countersService,
		Posts:           catalog,
		Realtime:        realtime,
		Logger:          logger,
		AllowedOrigins:  appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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

	// Pending notifications finish before the deferred producer and redis closes run.
	defer countersService.Wait()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
