// memory.go — in-memory реализации репозиториев.
// Используются в unit-тестах и при локальной разработке без PostgreSQL.
// Семантика идентична pgx-реализациям: условный захват, идемпотентный
// ledger, монотонный retry_count.
package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bigkaa/fileproc/internal/domain/model"
)

// MemoryFileRecordRepository — потокобезопасное in-memory хранилище записей файлов.
type MemoryFileRecordRepository struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord
}

// NewMemoryFileRecordRepository создаёт пустое in-memory хранилище.
func NewMemoryFileRecordRepository() *MemoryFileRecordRepository {
	return &MemoryFileRecordRepository{
		records: make(map[string]*model.FileRecord),
	}
}

func (r *MemoryFileRecordRepository) Create(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[f.FileID]; ok {
		return fmt.Errorf("%w: файл с таким ID уже зарегистрирован", ErrConflict)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	cp := *f
	r.records[f.FileID] = &cp
	return nil
}

func (r *MemoryFileRecordRepository) GetByID(_ context.Context, fileID string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// TryClaim — атомарность обеспечивается мьютексом: проверка статуса и
// переход в processing выполняются под одной блокировкой.
func (r *MemoryFileRecordRepository) TryClaim(_ context.Context, fileID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[fileID]
	if !ok {
		return false, nil
	}
	if !model.CanTransition(f.Status, model.StatusProcessing) {
		return false, nil
	}
	f.Status = model.StatusProcessing
	return true, nil
}

func (r *MemoryFileRecordRepository) MarkCompleted(_ context.Context, fileID, finalPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[fileID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	f.Status = model.StatusCompleted
	f.FinalPath = &finalPath
	f.ErrorMessage = nil
	f.ProcessedAt = &now
	return nil
}

func (r *MemoryFileRecordRepository) MarkFailed(_ context.Context, fileID, errMsg string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[fileID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	f.Status = model.StatusFailed
	f.ErrorMessage = &errMsg
	f.FinalPath = nil
	f.RetryCount += attempts
	f.ProcessedAt = &now
	return nil
}

func (r *MemoryFileRecordRepository) MarkDeadLettered(_ context.Context, fileID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.records[fileID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	f.DeadLettered = true
	f.Status = model.StatusFailed
	if errMsg != "" {
		f.ErrorMessage = &errMsg
	}
	f.FinalPath = nil
	f.ProcessedAt = &now
	return nil
}

func (r *MemoryFileRecordRepository) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*model.FileRecord
	for _, f := range r.records {
		if f.Status != model.StatusPending || !f.CreatedAt.Before(cutoff) {
			continue
		}
		cp := *f
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Delete удаляет запись (для тестов).
func (r *MemoryFileRecordRepository) Delete(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, fileID)
}

// Проверка на этапе компиляции
var _ FileRecordRepository = (*MemoryFileRecordRepository)(nil)

// MemoryProcessedMessageRepository — потокобезопасный in-memory ledger.
type MemoryProcessedMessageRepository struct {
	mu      sync.Mutex
	entries map[string]*model.ProcessedMessage
}

// NewMemoryProcessedMessageRepository создаёт пустой in-memory ledger.
func NewMemoryProcessedMessageRepository() *MemoryProcessedMessageRepository {
	return &MemoryProcessedMessageRepository{
		entries: make(map[string]*model.ProcessedMessage),
	}
}

func (r *MemoryProcessedMessageRepository) Has(_ context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[messageID]
	return ok, nil
}

func (r *MemoryProcessedMessageRepository) Record(_ context.Context, messageID, messageType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[messageID]; ok {
		return nil
	}
	r.entries[messageID] = &model.ProcessedMessage{
		MessageID:   messageID,
		MessageType: messageType,
		ReceivedAt:  time.Now().UTC(),
	}
	return nil
}

// Get возвращает запись ledger-а (для тестов).
func (r *MemoryProcessedMessageRepository) Get(messageID string) (*model.ProcessedMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[messageID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Проверка на этапе компиляции
var _ ProcessedMessageRepository = (*MemoryProcessedMessageRepository)(nil)
