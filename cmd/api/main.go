// API-модуль конвейера обработки файлов: приём загрузок, создание
// записей pending и публикация событий FileUploaded в RabbitMQ.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/fileproc/internal/api/handlers"
	"github.com/bigkaa/fileproc/internal/config"
	"github.com/bigkaa/fileproc/internal/database"
	"github.com/bigkaa/fileproc/internal/messaging"
	"github.com/bigkaa/fileproc/internal/repository"
	"github.com/bigkaa/fileproc/internal/server"
	"github.com/bigkaa/fileproc/internal/service"
	"github.com/bigkaa/fileproc/internal/storage"
	"github.com/bigkaa/fileproc/internal/storage/localstore"
	"github.com/bigkaa/fileproc/internal/storage/miniostore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Запуск API-модуля", slog.String("version", config.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	store, err := newStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	amqpConn, err := messaging.ConnectWithRetry(ctx, cfg.AMQPUrl, 10, 3*time.Second, logger)
	if err != nil {
		logger.Error("Ошибка подключения к RabbitMQ", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer amqpConn.Close()

	topologyCh, err := amqpConn.Channel()
	if err != nil {
		logger.Error("Ошибка открытия канала", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := messaging.DeclareTopology(topologyCh, cfg.RetryQueueTTL.Milliseconds()); err != nil {
		logger.Error("Ошибка объявления топологии очередей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	topologyCh.Close()

	producer, err := messaging.NewProducer(amqpConn, logger)
	if err != nil {
		logger.Error("Ошибка создания producer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer producer.Close()

	files := repository.NewFileRecordRepository(pool)
	uploads := service.NewUploadService(store, files, producer, logger)

	// Фоновая переотправка событий для записей, зависших в pending
	// (публикация не удалась при приёме)
	if cfg.SweepInterval > 0 {
		sweep := service.NewSweepService(files, producer, cfg.SweepInterval, cfg.SweepAfter, logger)
		sweep.Start(ctx)
		defer sweep.Stop()
	}

	filesHandler := handlers.NewFilesHandler(uploads, cfg.MaxFileSize, logger)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(pool),
		"rabbitmq":   messaging.NewReadinessChecker(amqpConn),
		"storage":    storage.NewReadinessChecker(store),
	})

	srv := server.New(cfg.Port, cfg.ShutdownTimeout, logger, healthHandler, func(r chi.Router) {
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/files", filesHandler.Upload)
			r.Get("/files/{fileID}", filesHandler.Get)
		})
	})

	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("API-модуль остановлен")
}

// newStorage создаёт бэкенд хранилища согласно конфигурации.
func newStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.FileStorage, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMinio:
		return miniostore.New(ctx, miniostore.Options{
			Endpoint:    cfg.MinioEndpoint,
			AccessKey:   cfg.MinioAccessKey,
			SecretKey:   cfg.MinioSecretKey,
			UseSSL:      cfg.MinioUseSSL,
			TempBucket:  cfg.MinioTempBucket,
			FinalBucket: cfg.MinioFinalBucket,
		}, logger)
	default:
		return localstore.New(cfg.StoragePath)
	}
}
