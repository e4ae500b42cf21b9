// Пакет model — доменные сущности конвейера обработки файлов.
package model

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus — статус записи файла в реестре.
type FileStatus string

// Статусы жизненного цикла файла.
const (
	// StatusPending — файл загружен во временное хранилище, ожидает обработки.
	StatusPending FileStatus = "pending"
	// StatusProcessing — файл эксклюзивно захвачен consumer-ом.
	StatusProcessing FileStatus = "processing"
	// StatusCompleted — файл перемещён в постоянное хранилище.
	StatusCompleted FileStatus = "completed"
	// StatusFailed — обработка завершилась ошибкой. Не терминальный статус:
	// брокер может доставить сообщение повторно, и файл снова перейдёт
	// в processing.
	StatusFailed FileStatus = "failed"
)

// Valid проверяет, что статус входит в множество допустимых.
func (s FileStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition проверяет допустимость перехода между статусами.
// Допустимые переходы:
//
//	pending    → processing  (атомарный захват consumer-ом)
//	failed     → processing  (повторная доставка после ошибки)
//	processing → completed
//	processing → failed
//	completed  → failed      (ошибка при фиксации уже после перемещения)
//
// Прямые переходы pending → completed и pending → failed запрещены:
// сначала должен быть получен эксклюзивный захват.
func CanTransition(from, to FileStatus) bool {
	switch from {
	case StatusPending, StatusFailed:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusFailed
	}
	return false
}

// FileRecord — запись загруженного файла.
// Хранится в таблице file_records. Создаётся API-модулем после записи
// байтов во временное хранилище, далее мутируется только consumer-ом.
// Записи никогда не удаляются конвейером.
type FileRecord struct {
	// FileID — UUID файла (задаётся при загрузке, неизменяем)
	FileID string
	// FileName — оригинальное имя файла
	FileName string
	// ContentType — заявленный MIME-тип файла
	ContentType string
	// Size — размер файла в байтах
	Size int64
	// TempPath — локатор файла во временном хранилище
	TempPath string
	// FinalPath — локатор в постоянном хранилище.
	// Инвариант: заполнен тогда и только тогда, когда Status == completed.
	FinalPath *string
	// Status — текущий статус обработки
	Status FileStatus
	// ErrorMessage — текст последней ошибки обработки.
	// Инвариант: заполнен только при Status == failed.
	ErrorMessage *string
	// RetryCount — суммарное число неудачных попыток обработки.
	// Только растёт, никогда не сбрасывается.
	RetryCount int
	// DeadLettered — сообщение файла помещено в dead-letter очередь,
	// автоматических повторных доставок больше не будет
	DeadLettered bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// ProcessedAt — время последней завершённой обработки (успех или ошибка)
	ProcessedAt *time.Time
}

// NewFileRecord создаёт запись файла в статусе pending.
func NewFileRecord(fileName, contentType string, size int64, tempPath string) *FileRecord {
	return &FileRecord{
		FileID:      uuid.New().String(),
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
		TempPath:    tempPath,
		Status:      StatusPending,
		RetryCount:  0,
		CreatedAt:   time.Now().UTC(),
	}
}

// ProcessedMessage — запись обработанного сообщения (ledger).
// Присутствие записи с данным MessageID — долговечное доказательство того,
// что побочные эффекты именно этого сообщения уже применены.
type ProcessedMessage struct {
	// MessageID — UUID сообщения брокера (не файла: один файл может
	// легитимно обрабатываться повторно под новым MessageID)
	MessageID string
	// MessageType — тег типа сообщения
	MessageType string
	// ReceivedAt — время обработки
	ReceivedAt time.Time
}
