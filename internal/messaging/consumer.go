// consumer.go — потребление событий FileUploaded.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bigkaa/fileproc/internal/domain/event"
	"github.com/bigkaa/fileproc/internal/service"
)

var (
	consumerDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_consumer_deliveries_total",
		Help: "Количество доставок по итоговому действию.",
	}, []string{"action"})

	consumerDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_consumer_dead_lettered_total",
		Help: "Количество сообщений, перенесённых в dead-letter очередь, по причине.",
	}, []string{"reason"})
)

// Consumer потребляет очередь file.uploaded и передаёт события
// сервису обработки. Результат обработки определяет судьбу сообщения:
//
//	Completed, AlreadyHandled → ack
//	Retryable                 → nack без requeue (DLX → retry-контур)
//	Fatal                     → публикация в DLQ + ack
//
// Сообщение, прошедшее maxCycles полных циклов retry-контура,
// переносится в DLQ до обработки.
type Consumer struct {
	conn      *amqp.Connection
	proc      *service.ProcessService
	prefetch  int
	workers   int
	maxCycles int
	logger    *slog.Logger
}

// NewConsumer создаёт consumer поверх установленного подключения.
func NewConsumer(conn *amqp.Connection, proc *service.ProcessService, prefetch, workers, maxCycles int, logger *slog.Logger) *Consumer {
	return &Consumer{
		conn:      conn,
		proc:      proc,
		prefetch:  prefetch,
		workers:   workers,
		maxCycles: maxCycles,
		logger:    logger,
	}
}

// Run запускает потребление и блокируется до отмены контекста
// или закрытия канала доставки.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("ошибка открытия канала: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("ошибка установки prefetch: %w", err)
	}

	deliveries, err := ch.Consume(
		QueueUploaded,
		"fileproc-worker",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("ошибка подписки на очередь %s: %w", QueueUploaded, err)
	}

	c.logger.Info("Consumer запущен",
		slog.String("queue", QueueUploaded),
		slog.Int("prefetch", c.prefetch),
		slog.Int("workers", c.workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.handle(ctx, ch, d)
				}
			}
		}()
	}

	wg.Wait()
	c.logger.Info("Consumer остановлен")
	return nil
}

// handle обрабатывает одну доставку.
func (c *Consumer) handle(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	log := c.logger.With(slog.String("message_id", d.MessageId))

	// Сообщение без идентификатора не поддаётся дедупликации —
	// сразу в DLQ
	if d.MessageId == "" {
		log.Error("Сообщение без message_id, переносим в DLQ")
		c.deadLetter(ctx, ch, d, "missing_message_id")
		return
	}

	var ev event.UploadedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.FileID == "" {
		log.Error("Некорректное тело сообщения, переносим в DLQ",
			slog.String("body", string(d.Body)))
		c.deadLetter(ctx, ch, d, "malformed")
		return
	}
	ev.Normalize()

	// Исчерпание циклов доставки: x-death считает возвраты
	// из основной очереди в retry-контур
	if cycles := deliveryDeathCount(d.Headers, QueueUploaded); cycles >= c.maxCycles {
		log.Error("Циклы доставки исчерпаны, переносим в DLQ",
			slog.String("file_id", ev.FileID),
			slog.Int("cycles", cycles),
		)
		if err := c.proc.Quarantine(ctx, ev.FileID, "циклы доставки исчерпаны"); err != nil {
			log.Error("Ошибка пометки dead-lettered", slog.String("error", err.Error()))
		}
		c.deadLetter(ctx, ch, d, "cycles_exhausted")
		return
	}

	outcome, err := c.proc.HandleUploaded(ctx, d.MessageId, ev)

	// Остановка worker-а: без ack сообщение вернётся в очередь
	// после закрытия канала
	if ctx.Err() != nil {
		log.Info("Обработка прервана остановкой, сообщение вернётся в очередь")
		return
	}

	switch outcome {
	case service.OutcomeCompleted, service.OutcomeAlreadyHandled:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("Ошибка ack", slog.String("error", ackErr.Error()))
			return
		}
		consumerDeliveries.WithLabelValues("ack").Inc()

	case service.OutcomeRetryable:
		log.Warn("Сообщение уходит в retry-контур", slog.String("error", err.Error()))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("Ошибка nack", slog.String("error", nackErr.Error()))
			return
		}
		consumerDeliveries.WithLabelValues("nack").Inc()

	case service.OutcomeFatal:
		log.Error("Невосстановимый сбой, переносим в DLQ", slog.String("error", err.Error()))
		c.deadLetter(ctx, ch, d, "fatal")
	}
}

// deadLetter публикует сообщение в DLQ и подтверждает исходную доставку.
// Публикация до ack: при сбое публикации сообщение останется в очереди.
func (c *Consumer) deadLetter(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, reason string) {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-dead-reason"] = reason

	err := ch.PublishWithContext(ctx,
		ExchangeFiles,
		RoutingKeyDLQ,
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Type:         d.Type,
			Headers:      headers,
			Body:         d.Body,
		},
	)
	if err != nil {
		c.logger.Error("Ошибка публикации в DLQ, сообщение остаётся в очереди",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("Ошибка nack", slog.String("error", nackErr.Error()))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("Ошибка ack после публикации в DLQ",
			slog.String("message_id", d.MessageId),
			slog.String("error", ackErr.Error()),
		)
		return
	}
	consumerDeadLettered.WithLabelValues(reason).Inc()
	consumerDeliveries.WithLabelValues("dead_letter").Inc()
}

// deliveryDeathCount извлекает из заголовка x-death число возвратов
// сообщения из очереди queue. Один полный цикл retry-контура даёт
// одну запись rejected для основной очереди.
func deliveryDeathCount(headers amqp.Table, queue string) int {
	raw, ok := headers["x-death"]
	if !ok {
		return 0
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return 0
	}

	for _, e := range entries {
		entry, ok := e.(amqp.Table)
		if !ok {
			continue
		}
		q, _ := entry["queue"].(string)
		reason, _ := entry["reason"].(string)
		if q != queue || reason != "rejected" {
			continue
		}
		switch count := entry["count"].(type) {
		case int64:
			return int(count)
		case int32:
			return int(count)
		case int:
			return count
		}
	}
	return 0
}
