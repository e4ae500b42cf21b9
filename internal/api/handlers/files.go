// Пакет handlers — HTTP обработчики API-модуля.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/fileproc/internal/api/errors"
	"github.com/bigkaa/fileproc/internal/domain/model"
	"github.com/bigkaa/fileproc/internal/repository"
	"github.com/bigkaa/fileproc/internal/service"
)

// fileResponse — представление записи файла в API.
type fileResponse struct {
	FileID       string     `json:"file_id"`
	FileName     string     `json:"file_name"`
	ContentType  string     `json:"content_type"`
	Size         int64      `json:"size"`
	Status       string     `json:"status"`
	FinalPath    *string    `json:"final_path,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	DeadLettered bool       `json:"dead_lettered"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

func toFileResponse(rec *model.FileRecord) fileResponse {
	return fileResponse{
		FileID:       rec.FileID,
		FileName:     rec.FileName,
		ContentType:  rec.ContentType,
		Size:         rec.Size,
		Status:       string(rec.Status),
		FinalPath:    rec.FinalPath,
		ErrorMessage: rec.ErrorMessage,
		RetryCount:   rec.RetryCount,
		DeadLettered: rec.DeadLettered,
		CreatedAt:    rec.CreatedAt,
		ProcessedAt:  rec.ProcessedAt,
	}
}

// FilesHandler — обработчики загрузки и просмотра файлов.
type FilesHandler struct {
	uploads     *service.UploadService
	maxFileSize int64
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файлов.
func NewFilesHandler(uploads *service.UploadService, maxFileSize int64, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		uploads:     uploads,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Upload обрабатывает POST /api/v1/files.
// Принимает multipart/form-data с полем file, возвращает 202 Accepted
// с записью в статусе pending. Обработка выполняется асинхронно.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Лимит на всё тело запроса: превышение обрывает чтение
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1024)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("размер файла превышает лимит %d байт", h.maxFileSize))
			return
		}
		apierrors.BadRequest(w, "поле file отсутствует в multipart/form-data")
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("размер файла %d превышает лимит %d байт", header.Size, h.maxFileSize))
		return
	}
	if header.Filename == "" {
		apierrors.BadRequest(w, "имя файла не задано")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	rec, err := h.uploads.Upload(r.Context(), file, header.Filename, contentType, header.Size)
	if err != nil {
		if errors.Is(err, service.ErrPublishFailed) {
			// Байты и запись сохранены, но событие не опубликовано —
			// клиент должен узнать об ошибке. Запись подберёт фоновая
			// переотправка.
			apierrors.InternalError(w, fmt.Sprintf(
				"файл %s сохранён, но постановка в очередь обработки не удалась", rec.FileID))
			return
		}
		h.logger.Error("Ошибка приёма файла", slog.String("error", err.Error()))
		apierrors.InternalError(w, "не удалось принять файл")
		return
	}

	writeJSON(w, http.StatusAccepted, toFileResponse(rec))
}

// Get обрабатывает GET /api/v1/files/{fileID}.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if _, err := uuid.Parse(fileID); err != nil {
		apierrors.BadRequest(w, fmt.Sprintf("некорректный идентификатор файла: %q", fileID))
		return
	}

	rec, err := h.uploads.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("файл %s не найден", fileID))
			return
		}
		h.logger.Error("Ошибка чтения записи файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "не удалось получить запись файла")
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// writeJSON записывает ответ в формате JSON.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Ошибка записи ответа", slog.String("error", err.Error()))
	}
}
