package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/fileproc/internal/domain/model"
)

// fileRecordRepo — реализация FileRecordRepository поверх PostgreSQL.
type fileRecordRepo struct {
	db DBTX
}

// NewFileRecordRepository создаёт репозиторий записей файлов.
func NewFileRecordRepository(db DBTX) FileRecordRepository {
	return &fileRecordRepo{db: db}
}

const fileRecordColumns = `file_id, file_name, content_type, size, temp_path,
	final_path, status, error_message, retry_count, dead_lettered,
	created_at, processed_at`

func (r *fileRecordRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO file_records (file_id, file_name, content_type, size,
			temp_path, status, retry_count, dead_lettered)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		f.FileID, f.FileName, f.ContentType, f.Size,
		f.TempPath, f.Status, f.RetryCount, f.DeadLettered,
	).Scan(&f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким ID уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	return nil
}

func (r *fileRecordRepo) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	query := `
		SELECT ` + fileRecordColumns + `
		FROM file_records
		WHERE file_id = $1`

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, fileID).Scan(
		&f.FileID, &f.FileName, &f.ContentType, &f.Size, &f.TempPath,
		&f.FinalPath, &f.Status, &f.ErrorMessage, &f.RetryCount, &f.DeadLettered,
		&f.CreatedAt, &f.ProcessedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// TryClaim — условный UPDATE: переход в processing выполняется только если
// запись всё ещё в pending (или failed после прошлой неудачи). Из гонки
// конкурирующих доставок ровно один вызывающий увидит rows > 0.
func (r *fileRecordRepo) TryClaim(ctx context.Context, fileID string) (bool, error) {
	query := `
		UPDATE file_records
		SET status = $2
		WHERE file_id = $1 AND status IN ($3, $4)`

	tag, err := r.db.Exec(ctx, query, fileID,
		model.StatusProcessing, model.StatusPending, model.StatusFailed)
	if err != nil {
		return false, fmt.Errorf("ошибка захвата файла: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *fileRecordRepo) MarkCompleted(ctx context.Context, fileID, finalPath string) error {
	query := `
		UPDATE file_records
		SET status = $2, final_path = $3, error_message = NULL,
			processed_at = now()
		WHERE file_id = $1`

	tag, err := r.db.Exec(ctx, query, fileID, model.StatusCompleted, finalPath)
	if err != nil {
		return fmt.Errorf("ошибка завершения обработки файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRecordRepo) MarkFailed(ctx context.Context, fileID, errMsg string, attempts int) error {
	query := `
		UPDATE file_records
		SET status = $2, error_message = $3, final_path = NULL,
			retry_count = retry_count + $4, processed_at = now()
		WHERE file_id = $1`

	tag, err := r.db.Exec(ctx, query, fileID, model.StatusFailed, errMsg, attempts)
	if err != nil {
		return fmt.Errorf("ошибка фиксации сбоя обработки файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRecordRepo) MarkDeadLettered(ctx context.Context, fileID, errMsg string) error {
	query := `
		UPDATE file_records
		SET dead_lettered = TRUE, status = $2,
			error_message = COALESCE(NULLIF($3, ''), error_message),
			final_path = NULL, processed_at = now()
		WHERE file_id = $1`

	tag, err := r.db.Exec(ctx, query, fileID, model.StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("ошибка пометки dead-letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRecordRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error) {
	query := `
		SELECT ` + fileRecordColumns + `
		FROM file_records
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, model.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения зависших pending записей: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := rows.Scan(
			&f.FileID, &f.FileName, &f.ContentType, &f.Size, &f.TempPath,
			&f.FinalPath, &f.Status, &f.ErrorMessage, &f.RetryCount, &f.DeadLettered,
			&f.CreatedAt, &f.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}
