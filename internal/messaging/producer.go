// producer.go — публикация событий с подтверждением брокера.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bigkaa/fileproc/internal/domain/event"
)

// Producer публикует события загрузки в основной exchange.
// Канал работает в confirm-режиме: Publish возвращает управление
// только после подтверждения брокером.
type Producer struct {
	ch     *amqp.Channel
	logger *slog.Logger
}

// NewProducer открывает канал в confirm-режиме.
func NewProducer(conn *amqp.Connection, logger *slog.Logger) (*Producer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия канала: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("ошибка перевода канала в confirm-режим: %w", err)
	}
	return &Producer{ch: ch, logger: logger}, nil
}

// Publish публикует событие FileUploaded и дожидается подтверждения.
// MessageId генерируется на каждую публикацию: повторная публикация
// того же события — новое сообщение для ledger-а идемпотентности.
func (p *Producer) Publish(ctx context.Context, ev event.UploadedEvent) error {
	ev.Normalize()

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	messageID := uuid.New().String()

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		ExchangeFiles,
		RoutingKeyUploaded,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Type:         ev.MessageType,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("ошибка публикации события: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("ожидание подтверждения прервано: %w", ctx.Err())
	case <-dc.Done():
		if !dc.Acked() {
			return fmt.Errorf("брокер отклонил сообщение %s", messageID)
		}
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("message_id", messageID),
		slog.String("file_id", ev.FileID),
	)
	return nil
}

// Close закрывает канал публикации.
func (p *Producer) Close() error {
	return p.ch.Close()
}
