package repository

import (
	"context"
	"fmt"
)

// processedMessageRepo — реализация ProcessedMessageRepository поверх PostgreSQL.
type processedMessageRepo struct {
	db DBTX
}

// NewProcessedMessageRepository создаёт репозиторий ledger-а сообщений.
func NewProcessedMessageRepository(db DBTX) ProcessedMessageRepository {
	return &processedMessageRepo{db: db}
}

func (r *processedMessageRepo) Has(ctx context.Context, messageID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, messageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки ledger-а: %w", err)
	}
	return exists, nil
}

// Record — идемпотентная вставка: повторная фиксация того же message_id
// поглощается ON CONFLICT DO NOTHING (гонка конкурирующих доставок).
func (r *processedMessageRepo) Record(ctx context.Context, messageID, messageType string) error {
	query := `
		INSERT INTO processed_messages (message_id, message_type)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, messageID, messageType); err != nil {
		return fmt.Errorf("ошибка записи в ledger: %w", err)
	}
	return nil
}
