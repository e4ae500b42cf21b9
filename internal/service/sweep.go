package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/fileproc/internal/domain/event"
	"github.com/bigkaa/fileproc/internal/repository"
)

var (
	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_sweep_runs_total",
		Help: "Количество проходов переотправки зависших записей.",
	})

	sweepRepublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_sweep_republished_total",
		Help: "Количество переотправленных событий для зависших записей.",
	})

	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_sweep_errors_total",
		Help: "Количество ошибок переотправки.",
	})
)

// sweepBatchSize — максимум записей за один проход.
const sweepBatchSize = 100

// SweepService — фоновая переотправка событий для записей, зависших
// в статусе pending: публикация события не удалась при приёме либо
// сообщение потеряно брокером до записи на диск.
//
// Переотправка публикует событие с новым message_id. Если исходное
// сообщение всё же дошло и было обработано, дубликат отсечёт захват
// записи: статус уже не pending.
type SweepService struct {
	files     repository.FileRecordRepository
	publisher EventPublisher
	interval  time.Duration
	after     time.Duration
	logger    *slog.Logger

	stopCh chan struct{}
	doneWg sync.WaitGroup
}

// NewSweepService создаёт сервис переотправки.
// after — минимальный возраст записи pending для переотправки;
// свежие записи ещё могут быть в полёте у брокера.
func NewSweepService(files repository.FileRecordRepository, publisher EventPublisher, interval, after time.Duration, logger *slog.Logger) *SweepService {
	return &SweepService{
		files:     files,
		publisher: publisher,
		interval:  interval,
		after:     after,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start запускает периодические проходы в фоне.
func (s *SweepService) Start(ctx context.Context) {
	s.doneWg.Add(1)
	go func() {
		defer s.doneWg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Сервис переотправки запущен",
			slog.Duration("interval", s.interval),
			slog.Duration("after", s.after),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop останавливает фоновые проходы и дожидается завершения текущего.
func (s *SweepService) Stop() {
	close(s.stopCh)
	s.doneWg.Wait()
	s.logger.Info("Сервис переотправки остановлен")
}

// RunOnce выполняет один проход переотправки.
func (s *SweepService) RunOnce(ctx context.Context) {
	sweepRuns.Inc()

	cutoff := time.Now().UTC().Add(-s.after)
	records, err := s.files.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		sweepErrors.Inc()
		s.logger.Error("Ошибка выборки зависших записей", slog.String("error", err.Error()))
		return
	}
	if len(records) == 0 {
		return
	}

	s.logger.Info("Найдены зависшие записи pending", slog.Int("count", len(records)))

	for _, rec := range records {
		ev := event.UploadedEvent{
			FileID:      rec.FileID,
			TempPath:    rec.TempPath,
			MessageType: event.TypeFileUploaded,
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			sweepErrors.Inc()
			s.logger.Error("Ошибка переотправки события",
				slog.String("file_id", rec.FileID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sweepRepublished.Inc()
		s.logger.Info("Событие переотправлено", slog.String("file_id", rec.FileID))
	}
}
