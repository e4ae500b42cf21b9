// Worker конвейера обработки файлов: потребление событий FileUploaded,
// перемещение файлов в постоянное хранилище и ведение ledger-а
// обработанных сообщений.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bigkaa/fileproc/internal/api/handlers"
	"github.com/bigkaa/fileproc/internal/cache"
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
	logger.Info("Запуск worker-а", slog.String("version", config.Version))

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

	files := repository.NewFileRecordRepository(pool)
	messages := repository.NewProcessedMessageRepository(pool)

	checkers := map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(pool),
		"rabbitmq":   messaging.NewReadinessChecker(amqpConn),
		"storage":    storage.NewReadinessChecker(store),
	}

	// Redis-кэш необязателен: без него проверка дубликатов идёт
	// напрямую в ledger в PostgreSQL
	var processedCache service.ProcessedCache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.New(cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisCache.Close()
		processedCache = redisCache
		checkers["redis"] = redisCache
		logger.Info("Redis-кэш обработанных сообщений включён",
			slog.String("addr", cfg.RedisAddr))
	}

	proc := service.NewProcessService(
		files, messages, processedCache, store,
		cfg.RetryAttempts, cfg.RetryBackoff, logger,
	)
	consumer := messaging.NewConsumer(
		amqpConn, proc,
		cfg.Prefetch, cfg.Workers, cfg.MaxDeliveryCycles, logger,
	)

	healthHandler := handlers.NewHealthHandler(checkers)
	srv := server.New(cfg.WorkerPort, cfg.ShutdownTimeout, logger, healthHandler, nil)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			logger.Error("Ошибка служебного HTTP-сервера", slog.String("error", err.Error()))
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			logger.Error("Ошибка consumer-а", slog.String("error", err.Error()))
			stop()
		}
	}()

	wg.Wait()
	logger.Info("Worker остановлен")
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
