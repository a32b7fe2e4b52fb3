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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/leafscan/internal/classifier"
	"github.com/example/leafscan/internal/config"
	"github.com/example/leafscan/internal/grpcclient"
	"github.com/example/leafscan/internal/handlers"
	"github.com/example/leafscan/internal/imageprocessor"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/repository"
	"github.com/example/leafscan/internal/storage"
	"github.com/example/leafscan/internal/usecase"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, closeRepo := initStore(ctx, cfg, logger)
	defer closeRepo()

	labels, err := classifier.LoadLabels(cfg.LabelsPath)
	if err != nil {
		logger.Fatal("failed to load labels", zap.String("path", cfg.LabelsPath), zap.Error(err))
	}
	logger.Info("labels loaded", zap.Int("count", len(labels)))

	clf, conn, err := grpcclient.DialClassifier(ctx, cfg.ClassifierAddr, cfg.ClassifierModel, logger)
	if err != nil {
		logger.Fatal("failed to connect to classifier", zap.String("addr", cfg.ClassifierAddr), zap.Error(err))
	}
	defer conn.Close()

	files, err := storage.NewLocalStorage(cfg.UploadsDir)
	if err != nil {
		logger.Fatal("failed to prepare uploads directory", zap.Error(err))
	}

	opts := []usecase.Option{}
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
		redisCancel()
		defer redisClient.Close()
		opts = append(opts, usecase.WithCache(usecase.NewRedisCache(redisClient)))
	}

	uc := usecase.NewScanUseCase(repo, files, imageprocessor.NewPreprocessor(cfg.ImageSize), clf, labels, logger, opts...)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	r.Use(cors.New(corsConfig))

	model := classifier.NewModelInfo(cfg.ClassifierModel, cfg.ImageSize, cfg.MaxUploadBytes(), labels)
	handlers.RegisterRoutes(r, uc, handlers.Options{
		UploadsDir:    files.BasePath(),
		MaxUploadSize: cfg.MaxUploadBytes(),
		Model:         &model,
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("leafscan listening", zap.String("addr", cfg.Addr), zap.String("database_driver", cfg.DatabaseDriver))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repository.ScanRepository, func()) {
	if cfg.DatabaseDriver == config.DriverPostgres {
		repo := repository.NewScanRepository(initDatabase(ctx, cfg.DatabaseDSN, logger), logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		return repo, func() { _ = repo.Close() }
	}

	repo, err := repository.OpenSQLite(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to open sqlite store", zap.String("path", cfg.DatabaseDSN), zap.Error(err))
	}
	return repo, func() { _ = repo.Close() }
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.String("addr", addr), zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
