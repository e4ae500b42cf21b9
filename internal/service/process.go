package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/fileproc/internal/domain/event"
	"github.com/bigkaa/fileproc/internal/domain/model"
	"github.com/bigkaa/fileproc/internal/repository"
	"github.com/bigkaa/fileproc/internal/storage"
)

// Outcome — результат обработки сообщения. Определяет действие
// consumer-а: ack, nack или перенос в dead-letter очередь.
type Outcome int

const (
	// OutcomeCompleted — файл обработан, сообщение подтверждается.
	OutcomeCompleted Outcome = iota
	// OutcomeAlreadyHandled — дубликат или уже обработанный файл,
	// сообщение подтверждается без работы.
	OutcomeAlreadyHandled
	// OutcomeRetryable — временный сбой, сообщение уходит
	// в retry-контур.
	OutcomeRetryable
	// OutcomeFatal — невосстановимый сбой, сообщение переносится
	// в dead-letter очередь.
	OutcomeFatal
)

// String возвращает строковое представление результата для логов и метрик.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAlreadyHandled:
		return "already_handled"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// fatalError помечает ошибку как невосстановимую: внутренние повторы
// для неё бессмысленны.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_messages_processed_total",
		Help: "Количество обработанных сообщений по результату.",
	}, []string{"outcome"})

	processAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_process_attempts_total",
		Help: "Количество внутренних попыток обработки файла.",
	})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_process_duration_seconds",
		Help:    "Длительность обработки сообщения в секундах.",
		Buckets: prometheus.DefBuckets,
	})
)

// ProcessedCache — необязательный быстрый путь проверки дубликатов.
// Промах кэша уходит в ledger в БД, запись — best-effort.
type ProcessedCache interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string) error
}

// ProcessService — обработка событий FileUploaded.
type ProcessService struct {
	files    repository.FileRecordRepository
	messages repository.ProcessedMessageRepository
	cache    ProcessedCache // nil, если Redis не настроен
	store    storage.FileStorage

	retryAttempts int
	retryBackoff  time.Duration

	logger *slog.Logger
}

// NewProcessService создаёт сервис обработки. cache может быть nil.
func NewProcessService(
	files repository.FileRecordRepository,
	messages repository.ProcessedMessageRepository,
	cache ProcessedCache,
	store storage.FileStorage,
	retryAttempts int,
	retryBackoff time.Duration,
	logger *slog.Logger,
) *ProcessService {
	return &ProcessService{
		files:         files,
		messages:      messages,
		cache:         cache,
		store:         store,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		logger:        logger,
	}
}

// HandleUploaded обрабатывает одно событие FileUploaded.
//
// Порядок: ledger → атомарный захват записи → ограниченные внутренние
// повторы перемещения файла → запись в ledger. Consumer подтверждает
// сообщение только после возврата OutcomeCompleted или
// OutcomeAlreadyHandled.
func (s *ProcessService) HandleUploaded(ctx context.Context, messageID string, ev event.UploadedEvent) (Outcome, error) {
	start := time.Now()
	outcome, err := s.handleUploaded(ctx, messageID, ev)
	processDuration.Observe(time.Since(start).Seconds())
	messagesProcessed.WithLabelValues(outcome.String()).Inc()
	return outcome, err
}

func (s *ProcessService) handleUploaded(ctx context.Context, messageID string, ev event.UploadedEvent) (Outcome, error) {
	log := s.logger.With(
		slog.String("message_id", messageID),
		slog.String("file_id", ev.FileID),
	)

	// Проверка идемпотентности: сначала кэш, затем ledger в БД
	seen, err := s.seenBefore(ctx, messageID)
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("ошибка проверки ledger: %w", err)
	}
	if seen {
		log.Info("Сообщение уже обработано, пропускаем")
		return OutcomeAlreadyHandled, nil
	}

	// Метаданные обязаны существовать: событие публикуется только
	// после создания записи. Отсутствие — невосстановимая потеря.
	rec, err := s.files.GetByID(ctx, ev.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error("Запись файла не найдена, сообщение невосстановимо")
			return OutcomeFatal, fmt.Errorf("запись файла %s не найдена", ev.FileID)
		}
		return OutcomeRetryable, fmt.Errorf("ошибка чтения записи файла: %w", err)
	}

	// Атомарный захват: pending|failed → processing. Неудача означает,
	// что запись обрабатывается параллельно или уже завершена.
	claimed, err := s.files.TryClaim(ctx, rec.FileID)
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("ошибка захвата записи: %w", err)
	}
	if !claimed {
		log.Info("Запись не захвачена, обрабатывается параллельно или завершена",
			slog.String("status", string(rec.Status)),
		)
		return OutcomeAlreadyHandled, nil
	}

	attempts, procErr := s.processWithRetry(ctx, log, rec)
	if procErr != nil {
		if ctx.Err() != nil {
			// Остановка worker-а: статус откатывать нельзя, запись
			// подберёт либо повторная доставка, либо переотправка
			return OutcomeRetryable, fmt.Errorf("обработка прервана: %w", ctx.Err())
		}

		if markErr := s.files.MarkFailed(ctx, rec.FileID, procErr.Error(), attempts); markErr != nil && !errors.Is(markErr, repository.ErrNotFound) {
			log.Error("Не удалось пометить запись failed", slog.String("error", markErr.Error()))
		}

		if isFatal(procErr) {
			log.Error("Невосстановимая ошибка обработки", slog.String("error", procErr.Error()))
			// Терминальный карантин: сообщение уйдёт в DLQ,
			// автоматических повторов для записи больше не будет
			if qErr := s.files.MarkDeadLettered(ctx, rec.FileID, ""); qErr != nil && !errors.Is(qErr, repository.ErrNotFound) {
				log.Error("Не удалось пометить запись dead-lettered", slog.String("error", qErr.Error()))
			}
			return OutcomeFatal, procErr
		}

		log.Warn("Обработка не удалась, сообщение уходит в retry-контур",
			slog.Int("attempts", attempts),
			slog.String("error", procErr.Error()),
		)
		return OutcomeRetryable, procErr
	}

	// Запись в ledger строго до подтверждения сообщения: сбой между
	// ledger и ack даёт повторную доставку, которую ledger и отсечёт
	if err := s.messages.Record(ctx, messageID, ev.MessageType); err != nil {
		return OutcomeRetryable, fmt.Errorf("ошибка записи в ledger: %w", err)
	}
	s.cacheMark(ctx, messageID)

	log.Info("Файл обработан", slog.Int("attempts", attempts))
	return OutcomeCompleted, nil
}

// processWithRetry выполняет ограниченные внутренние повторы
// с экспоненциальной паузой. Возвращает число сделанных попыток.
func (s *ProcessService) processWithRetry(ctx context.Context, log *slog.Logger, rec *model.FileRecord) (int, error) {
	backoff := s.retryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		processAttempts.Inc()

		lastErr = s.processOnce(ctx, rec)
		if lastErr == nil {
			return attempt, nil
		}
		if isFatal(lastErr) || ctx.Err() != nil {
			return attempt, lastErr
		}

		log.Warn("Попытка обработки не удалась",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.retryAttempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt < s.retryAttempts {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return s.retryAttempts, lastErr
}

// processOnce — одна попытка: чтение временного файла, перемещение
// в постоянную область, повторное чтение записи, фиксация completed.
func (s *ProcessService) processOnce(ctx context.Context, rec *model.FileRecord) error {
	f, err := s.store.OpenTemp(ctx, rec.TempPath)
	switch {
	case err == nil:
		// Проверка читаемости содержимого целиком
		n, copyErr := io.Copy(io.Discard, f)
		f.Close()
		if copyErr != nil {
			return fmt.Errorf("ошибка чтения содержимого: %w", copyErr)
		}
		if rec.Size > 0 && n != rec.Size {
			// Расхождение фиксируем в логах; содержимое конвейер
			// не валидирует
			s.logger.Warn("Размер содержимого не совпадает с заявленным",
				slog.String("file_id", rec.FileID),
				slog.Int64("declared", rec.Size),
				slog.Int64("actual", n),
			)
		}
	case errors.Is(err, storage.ErrNotFound):
		// Временные байты отсутствуют. Если файл уже в постоянной
		// области (сбой после перемещения на прошлой доставке),
		// MoveToFinal ниже вернёт существующий локатор. Иначе —
		// байты потеряны безвозвратно.
	default:
		return fmt.Errorf("ошибка открытия временного файла: %w", err)
	}

	finalPath, err := s.store.MoveToFinal(ctx, rec.TempPath, rec.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fatal(fmt.Errorf("байты файла %s потеряны: %w", rec.FileID, err))
		}
		return fmt.Errorf("ошибка перемещения файла: %w", err)
	}

	// Повторное чтение перед фиксацией: запись могла исчезнуть
	// за время перемещения — это невосстановимая потеря метаданных
	if _, err := s.files.GetByID(ctx, rec.FileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fatal(fmt.Errorf("запись файла %s исчезла во время обработки", rec.FileID))
		}
		return fmt.Errorf("ошибка повторного чтения записи: %w", err)
	}

	if err := s.files.MarkCompleted(ctx, rec.FileID, finalPath); err != nil {
		return fmt.Errorf("ошибка фиксации completed: %w", err)
	}

	// Временный объект больше не нужен. Очистка best-effort: бэкенды
	// с копирующим перемещением (MinIO) могли оставить источник
	if err := s.store.DeleteTemp(ctx, rec.TempPath); err != nil {
		s.logger.Warn("Не удалось удалить временный объект",
			slog.String("file_id", rec.FileID),
			slog.String("temp_path", rec.TempPath),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Quarantine помечает запись как перенесённую в dead-letter очередь.
// Вызывается consumer-ом при исчерпании циклов доставки. Отсутствие
// записи — не ошибка: метаданные могли быть потеряны ещё до карантина.
func (s *ProcessService) Quarantine(ctx context.Context, fileID, reason string) error {
	if err := s.files.MarkDeadLettered(ctx, fileID, reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка пометки dead-lettered: %w", err)
	}
	s.logger.Warn("Запись перенесена в dead-letter очередь",
		slog.String("file_id", fileID),
		slog.String("reason", reason),
	)
	return nil
}

// seenBefore проверяет сообщение в кэше и ledger-е.
func (s *ProcessService) seenBefore(ctx context.Context, messageID string) (bool, error) {
	if s.cache != nil {
		hit, err := s.cache.Seen(ctx, messageID)
		if err != nil {
			s.logger.Warn("Кэш недоступен, проверяем ledger в БД",
				slog.String("error", err.Error()))
		} else if hit {
			return true, nil
		}
	}

	seen, err := s.messages.Has(ctx, messageID)
	if err != nil {
		return false, err
	}
	if seen {
		s.cacheMark(ctx, messageID)
	}
	return seen, nil
}

// cacheMark помечает сообщение в кэше best-effort.
func (s *ProcessService) cacheMark(ctx context.Context, messageID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Mark(ctx, messageID); err != nil {
		s.logger.Warn("Не удалось записать сообщение в кэш",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
	}
}
