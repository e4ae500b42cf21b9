package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/fileproc/internal/domain/model"
	"github.com/bigkaa/fileproc/internal/repository"
)

func TestSweepRunOnce(t *testing.T) {
	files := repository.NewMemoryFileRecordRepository()
	pub := &capturePublisher{}
	sweep := NewSweepService(files, pub, time.Minute, 10*time.Minute, testLogger())
	ctx := context.Background()

	// Зависшая pending запись: событие потеряно при приёме
	stale := model.NewFileRecord("старый.txt", "text/plain", 10, "/tmp/старый")
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := files.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Свежая pending запись: сообщение ещё может быть в полёте
	fresh := model.NewFileRecord("свежий.txt", "text/plain", 10, "/tmp/свежий")
	if err := files.Create(ctx, fresh); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Завершённая запись переотправке не подлежит
	done := model.NewFileRecord("готовый.txt", "text/plain", 10, "/tmp/готовый")
	done.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := files.Create(ctx, done); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := files.TryClaim(ctx, done.FileID); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if err := files.MarkCompleted(ctx, done.FileID, "/final/готовый"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	sweep.RunOnce(ctx)

	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("ожидалась 1 переотправка, было %d", len(events))
	}
	if events[0].FileID != stale.FileID {
		t.Errorf("переотправлено событие для %s, ожидалось %s", events[0].FileID, stale.FileID)
	}
	if events[0].TempPath != stale.TempPath {
		t.Errorf("temp_path события %q не совпадает с записью %q", events[0].TempPath, stale.TempPath)
	}
}

func TestSweepStartStop(t *testing.T) {
	files := repository.NewMemoryFileRecordRepository()
	pub := &capturePublisher{}
	sweep := NewSweepService(files, pub, 10*time.Millisecond, time.Nanosecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale := model.NewFileRecord("файл.txt", "text/plain", 10, "/tmp/файл")
	stale.CreatedAt = time.Now().UTC().Add(-time.Minute)
	if err := files.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sweep.Start(ctx)

	deadline := time.After(2 * time.Second)
	for len(pub.published()) == 0 {
		select {
		case <-deadline:
			t.Fatal("фоновая переотправка не сработала за отведённое время")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sweep.Stop()
}
