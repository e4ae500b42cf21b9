// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/fileproc/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FileRecordRepository — доступ к таблице file_records.
// Запись мутируется только consumer-ом; единственный примитив взаимного
// исключения — условный захват TryClaim.
type FileRecordRepository interface {
	// Create создаёт новую запись файла в статусе pending.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает запись по UUID файла.
	GetByID(ctx context.Context, fileID string) (*model.FileRecord, error)
	// TryClaim выполняет атомарный условный переход в processing.
	// Возвращает true ровно одному вызывающему, пока запись в pending
	// (или failed — повторная доставка после ошибки).
	TryClaim(ctx context.Context, fileID string) (bool, error)
	// MarkCompleted переводит запись в completed: задаёт final_path,
	// processed_at и очищает error_message.
	MarkCompleted(ctx context.Context, fileID, finalPath string) error
	// MarkFailed переводит запись в failed: записывает текст ошибки,
	// processed_at и увеличивает retry_count на attempts.
	MarkFailed(ctx context.Context, fileID, errMsg string, attempts int) error
	// MarkDeadLettered помечает запись как помещённую в dead-letter
	// очередь: автоматических повторных доставок больше не будет.
	MarkDeadLettered(ctx context.Context, fileID, errMsg string) error
	// ListStalePending возвращает pending записи старше cutoff
	// (для фоновой сверки).
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error)
}

// ProcessedMessageRepository — ledger обработанных сообщений.
// Только вставки; уникальность message_id обеспечивается базой.
type ProcessedMessageRepository interface {
	// Has проверяет наличие записи для message_id.
	Has(ctx context.Context, messageID string) (bool, error)
	// Record фиксирует обработку сообщения. Повторная фиксация того же
	// message_id — no-op.
	Record(ctx context.Context, messageID, messageType string) error
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
