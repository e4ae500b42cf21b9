package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/fileproc/internal/domain/event"
	"github.com/bigkaa/fileproc/internal/domain/model"
	"github.com/bigkaa/fileproc/internal/repository"
	"github.com/bigkaa/fileproc/internal/storage/localstore"
)

// capturePublisher собирает опубликованные события.
type capturePublisher struct {
	mu     sync.Mutex
	events []event.UploadedEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev event.UploadedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) published() []event.UploadedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.UploadedEvent(nil), p.events...)
}

// failingCreateRepo проваливает Create.
type failingCreateRepo struct {
	repository.FileRecordRepository
}

func (r *failingCreateRepo) Create(context.Context, *model.FileRecord) error {
	return fmt.Errorf("база недоступна")
}

func TestUploadSuccess(t *testing.T) {
	store, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("localstore.New: %v", err)
	}
	files := repository.NewMemoryFileRecordRepository()
	pub := &capturePublisher{}
	svc := NewUploadService(store, files, pub, testLogger())
	ctx := context.Background()

	content := "содержимое отчёта"
	rec, err := svc.Upload(ctx, strings.NewReader(content), "отчёт.pdf", "application/pdf", int64(len(content)))
	if err != nil {
		t.Fatalf("Upload вернул ошибку: %v", err)
	}

	if rec.Status != model.StatusPending {
		t.Errorf("ожидался статус pending, получен %s", rec.Status)
	}
	if rec.FileName != "отчёт.pdf" {
		t.Errorf("ожидалось имя отчёт.pdf, получено %s", rec.FileName)
	}

	// Запись в БД
	got, err := files.GetByID(ctx, rec.FileID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.TempPath == "" {
		t.Error("temp_path не заполнен")
	}

	// Байты во временном хранилище
	if _, err := os.Stat(got.TempPath); err != nil {
		t.Errorf("временный файл отсутствует: %v", err)
	}

	// Ровно одно событие с корректными полями
	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("ожидалось 1 событие, опубликовано %d", len(events))
	}
	if events[0].FileID != rec.FileID {
		t.Errorf("file_id события %s не совпадает с записью %s", events[0].FileID, rec.FileID)
	}
	if events[0].MessageType != event.TypeFileUploaded {
		t.Errorf("неожиданный message_type %q", events[0].MessageType)
	}
}

func TestUploadPublishFailure(t *testing.T) {
	store, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("localstore.New: %v", err)
	}
	files := repository.NewMemoryFileRecordRepository()
	pub := &capturePublisher{err: fmt.Errorf("брокер недоступен")}
	svc := NewUploadService(store, files, pub, testLogger())
	ctx := context.Background()

	rec, err := svc.Upload(ctx, strings.NewReader("данные"), "файл.txt", "text/plain", 6)
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("ожидалась ошибка ErrPublishFailed, получена %v", err)
	}
	if rec == nil {
		t.Fatal("запись должна возвращаться даже при сбое публикации")
	}

	// Байты и запись сохранены: их подберёт фоновая переотправка
	got, err := files.GetByID(ctx, rec.FileID)
	if err != nil {
		t.Fatalf("запись должна существовать: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("ожидался статус pending, получен %s", got.Status)
	}
	if _, err := os.Stat(got.TempPath); err != nil {
		t.Errorf("временный файл должен сохраниться: %v", err)
	}
}

func TestUploadCreateFailureCleansTemp(t *testing.T) {
	base := t.TempDir()
	store, err := localstore.New(base)
	if err != nil {
		t.Fatalf("localstore.New: %v", err)
	}
	files := &failingCreateRepo{FileRecordRepository: repository.NewMemoryFileRecordRepository()}
	pub := &capturePublisher{}
	svc := NewUploadService(store, files, pub, testLogger())

	_, err = svc.Upload(context.Background(), strings.NewReader("данные"), "файл.txt", "text/plain", 6)
	if err == nil {
		t.Fatal("ожидалась ошибка при сбое создания записи")
	}

	// Осиротевший временный файл удалён
	entries, err := os.ReadDir(base + "/temp")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("временная область должна быть пуста, найдено %d файлов", len(entries))
	}

	// Событие не публиковалось
	if len(pub.published()) != 0 {
		t.Error("событие не должно публиковаться при сбое создания записи")
	}
}
