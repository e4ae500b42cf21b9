package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/fileproc/internal/domain/model"
)

func TestMemoryFileRecordLifecycle(t *testing.T) {
	repo := NewMemoryFileRecordRepository()
	ctx := context.Background()

	rec := model.NewFileRecord("файл.txt", "text/plain", 10, "/tmp/x")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Дубликат отклоняется
	if err := repo.Create(ctx, rec); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create должен вернуть ErrConflict, получено %v", err)
	}

	claimed, err := repo.TryClaim(ctx, rec.FileID)
	if err != nil || !claimed {
		t.Fatalf("TryClaim: claimed=%v err=%v", claimed, err)
	}

	// Захват processing повторно не выдаётся
	claimed, err = repo.TryClaim(ctx, rec.FileID)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if claimed {
		t.Error("запись в processing не должна захватываться повторно")
	}

	if err := repo.MarkCompleted(ctx, rec.FileID, "/final/x"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.FileID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("статус = %s, ожидалось completed", got.Status)
	}
	if got.FinalPath == nil || *got.FinalPath != "/final/x" {
		t.Errorf("final_path = %v, ожидалось /final/x", got.FinalPath)
	}

	// Завершённая запись не захватывается
	claimed, _ = repo.TryClaim(ctx, rec.FileID)
	if claimed {
		t.Error("completed запись не должна захватываться")
	}
}

// TestMemoryTryClaimRace — из гонки конкурирующих доставок ровно один
// вызывающий получает захват.
func TestMemoryTryClaimRace(t *testing.T) {
	repo := NewMemoryFileRecordRepository()
	ctx := context.Background()

	rec := model.NewFileRecord("файл.txt", "text/plain", 10, "/tmp/x")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.TryClaim(ctx, rec.FileID)
			if err != nil {
				t.Errorf("TryClaim: %v", err)
				return
			}
			results <- claimed
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for claimed := range results {
		if claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("захват должен получить ровно один вызывающий, получили %d", winners)
	}
}

func TestMemoryMarkFailedMonotoneRetryCount(t *testing.T) {
	repo := NewMemoryFileRecordRepository()
	ctx := context.Background()

	rec := model.NewFileRecord("файл.txt", "text/plain", 10, "/tmp/x")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.TryClaim(ctx, rec.FileID); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if err := repo.MarkFailed(ctx, rec.FileID, "сбой хранилища", 3); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := repo.GetByID(ctx, rec.FileID)
	if got.RetryCount != 3 {
		t.Errorf("retry_count = %d, ожидалось 3", got.RetryCount)
	}

	// Вторая доставка: failed → processing → failed, счётчик растёт
	if _, err := repo.TryClaim(ctx, rec.FileID); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if err := repo.MarkFailed(ctx, rec.FileID, "снова сбой", 3); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ = repo.GetByID(ctx, rec.FileID)
	if got.RetryCount != 6 {
		t.Errorf("retry_count = %d, ожидалось 6 (монотонный рост)", got.RetryCount)
	}

	// Успех не сбрасывает счётчик
	if _, err := repo.TryClaim(ctx, rec.FileID); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if err := repo.MarkCompleted(ctx, rec.FileID, "/final/x"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ = repo.GetByID(ctx, rec.FileID)
	if got.RetryCount != 6 {
		t.Errorf("retry_count = %d, счётчик не должен сбрасываться", got.RetryCount)
	}
	if got.ErrorMessage != nil {
		t.Error("error_message должен очищаться при успехе")
	}
}

func TestMemoryMarkDeadLettered(t *testing.T) {
	repo := NewMemoryFileRecordRepository()
	ctx := context.Background()

	rec := model.NewFileRecord("файл.txt", "text/plain", 10, "/tmp/x")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.MarkDeadLettered(ctx, rec.FileID, "циклы исчерпаны"); err != nil {
		t.Fatalf("MarkDeadLettered: %v", err)
	}

	got, _ := repo.GetByID(ctx, rec.FileID)
	if !got.DeadLettered {
		t.Error("запись должна быть помечена dead_lettered")
	}
	if got.Status != model.StatusFailed {
		t.Errorf("статус = %s, ожидалось failed", got.Status)
	}

	if err := repo.MarkDeadLettered(ctx, "нет-такого", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ошибка ErrNotFound, получена %v", err)
	}
}

func TestMemoryListStalePending(t *testing.T) {
	repo := NewMemoryFileRecordRepository()
	ctx := context.Background()

	stale := model.NewFileRecord("старый.txt", "text/plain", 10, "/tmp/a")
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := repo.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fresh := model.NewFileRecord("свежий.txt", "text/plain", 10, "/tmp/b")
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cutoff := time.Now().UTC().Add(-10 * time.Minute)
	got, err := repo.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("найдено %d записей, ожидалась 1", len(got))
	}
	if got[0].FileID != stale.FileID {
		t.Errorf("найдена запись %s, ожидалась %s", got[0].FileID, stale.FileID)
	}
}

func TestMemoryProcessedMessageLedger(t *testing.T) {
	repo := NewMemoryProcessedMessageRepository()
	ctx := context.Background()

	seen, err := repo.Has(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if seen {
		t.Error("пустой ledger не должен содержать msg-1")
	}

	if err := repo.Record(ctx, "msg-1", "FileUploaded.v1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Повторная фиксация — no-op
	if err := repo.Record(ctx, "msg-1", "FileUploaded.v1"); err != nil {
		t.Errorf("повторный Record должен быть no-op: %v", err)
	}

	seen, err = repo.Has(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !seen {
		t.Error("ledger должен содержать msg-1 после фиксации")
	}
}
