// Пакет service — бизнес-логика конвейера обработки файлов.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/fileproc/internal/domain/event"
	"github.com/bigkaa/fileproc/internal/domain/model"
	"github.com/bigkaa/fileproc/internal/repository"
	"github.com/bigkaa/fileproc/internal/storage"
)

// ErrPublishFailed — файл принят и запись создана, но событие
// не опубликовано. Запись остаётся в статусе pending; её подберёт
// фоновая переотправка.
var ErrPublishFailed = errors.New("событие не опубликовано")

// EventPublisher публикует события загрузки в брокер.
type EventPublisher interface {
	Publish(ctx context.Context, ev event.UploadedEvent) error
}

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_uploads_total",
		Help: "Количество принятых загрузок по результату.",
	}, []string{"result"})

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_upload_bytes_total",
		Help: "Суммарный объём принятых файлов в байтах.",
	})
)

// UploadService принимает файлы: сохраняет байты во временную область,
// создаёт запись pending и публикует событие FileUploaded.
type UploadService struct {
	store     storage.FileStorage
	files     repository.FileRecordRepository
	publisher EventPublisher
	logger    *slog.Logger
}

// NewUploadService создаёт сервис приёма файлов.
func NewUploadService(store storage.FileStorage, files repository.FileRecordRepository, publisher EventPublisher, logger *slog.Logger) *UploadService {
	return &UploadService{
		store:     store,
		files:     files,
		publisher: publisher,
		logger:    logger,
	}
}

// Upload принимает файл и ставит его в очередь на обработку.
//
// Порядок фиксированный: байты → запись в БД → событие. Событие
// никогда не публикуется раньше, чем байты и метаданные сохранены:
// consumer, получивший событие, всегда может их прочитать.
func (s *UploadService) Upload(ctx context.Context, r io.Reader, fileName, contentType string, size int64) (*model.FileRecord, error) {
	rec := model.NewFileRecord(fileName, contentType, size, "")

	tempPath, err := s.store.PutTemp(ctx, r, rec.FileID)
	if err != nil {
		uploadsTotal.WithLabelValues("storage_error").Inc()
		return nil, fmt.Errorf("ошибка сохранения файла: %w", err)
	}
	rec.TempPath = tempPath

	if err := s.files.Create(ctx, rec); err != nil {
		uploadsTotal.WithLabelValues("db_error").Inc()
		// Запись не создана — временный файл осиротел, подчищаем
		if delErr := s.store.DeleteTemp(ctx, tempPath); delErr != nil {
			s.logger.Warn("Не удалось удалить осиротевший временный файл",
				slog.String("temp_path", tempPath),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("ошибка создания записи: %w", err)
	}

	ev := event.UploadedEvent{
		FileID:      rec.FileID,
		TempPath:    rec.TempPath,
		MessageType: event.TypeFileUploaded,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		uploadsTotal.WithLabelValues("publish_error").Inc()
		s.logger.Error("Событие загрузки не опубликовано",
			slog.String("file_id", rec.FileID),
			slog.String("error", err.Error()),
		)
		// Байты и запись сохранены: фоновая переотправка опубликует
		// событие позже, клиенту возвращаем ошибку постановки в очередь
		return rec, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	uploadsTotal.WithLabelValues("accepted").Inc()
	uploadBytes.Add(float64(size))

	s.logger.Info("Файл принят",
		slog.String("file_id", rec.FileID),
		slog.String("file_name", fileName),
		slog.Int64("size", size),
	)
	return rec, nil
}

// GetFile возвращает запись файла по идентификатору.
func (s *UploadService) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	return s.files.GetByID(ctx, fileID)
}
