// Пакет database — пул подключений к PostgreSQL и схема конвейера.
// Схема (реестр файлов + ledger сообщений) версионируется миграциями
// golang-migrate, встроенными в бинарник; оба процесса применяют их
// при старте, поэтому Migrate обязан быть идемпотентным.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/fileproc/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect создаёт пул подключений с параметрами из конфигурации
// и проверяет доступность базы через ping.
//
// Размер пула согласован с нагрузкой конвейера: api держит подключения
// под HTTP-запросами, worker — под FP_WORKERS горутинами consumer-а.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBConnLifetime
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Пул подключений к PostgreSQL готов",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", cfg.DBMaxConns),
	)
	return pool, nil
}

// migrateURL собирает URL для golang-migrate (драйвер pgx5).
// Пароль экранируется: он попадает в userinfo-часть URL.
func migrateURL(cfg *config.Config) string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.DBUser), url.QueryEscape(cfg.DBPassword),
		cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode,
	)
}

// Migrate приводит схему к актуальной версии. Отсутствие новых
// миграций — не ошибка.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка чтения встроенных миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	err = m.Up()
	switch {
	case err == nil:
		version, dirty, _ := m.Version()
		logger.Info("Схема обновлена",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	case errors.Is(err, migrate.ErrNoChange):
		version, _, _ := m.Version()
		logger.Info("Схема актуальна", slog.Uint64("version", uint64(version)))
	default:
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}
	return nil
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady проверяет подключение к PostgreSQL через ping.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	return "ok", "подключение активно"
}
