// topology.go — топология очередей RabbitMQ.
//
// Двухуровневая схема повторов:
//
//	fileproc.files (exchange) → file.uploaded (очередь consumer-а)
//	    ↓ nack (DLX)
//	fileproc.retry (exchange) → file.uploaded.retry (парковка с TTL)
//	    ↓ истечение TTL (DLX)
//	fileproc.files → file.uploaded (новый цикл доставки)
//
// После MaxDeliveryCycles полных циклов consumer публикует сообщение
// в file.uploaded.dlq — терминальную очередь без автоматического
// потребителя.
package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена exchange-ей и очередей.
const (
	// ExchangeFiles — основной exchange событий файлов.
	ExchangeFiles = "fileproc.files"
	// ExchangeRetry — exchange retry-контура.
	ExchangeRetry = "fileproc.retry"

	// QueueUploaded — основная очередь consumer-а.
	QueueUploaded = "file.uploaded"
	// QueueUploadedRetry — парковочная очередь с TTL.
	QueueUploadedRetry = "file.uploaded.retry"
	// QueueUploadedDLQ — терминальная dead-letter очередь.
	QueueUploadedDLQ = "file.uploaded.dlq"

	// RoutingKeyUploaded — ключ маршрутизации событий загрузки.
	RoutingKeyUploaded = "file.uploaded"
	// RoutingKeyDLQ — ключ маршрутизации в dead-letter очередь.
	RoutingKeyDLQ = "file.uploaded.dlq"
)

// DeclareTopology идемпотентно объявляет exchange-и, очереди и привязки.
// Вызывается при старте обоих процессов (api и worker).
func DeclareTopology(ch *amqp.Channel, retryTTLMillis int64) error {
	for _, exchange := range []string{ExchangeFiles, ExchangeRetry} {
		if err := ch.ExchangeDeclare(
			exchange,
			"direct",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("ошибка объявления exchange %s: %w", exchange, err)
		}
	}

	// Основная очередь: nack уводит сообщение в retry-контур
	if _, err := ch.QueueDeclare(
		QueueUploaded,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    ExchangeRetry,
			"x-dead-letter-routing-key": RoutingKeyUploaded,
		},
	); err != nil {
		return fmt.Errorf("ошибка объявления очереди %s: %w", QueueUploaded, err)
	}
	if err := ch.QueueBind(QueueUploaded, RoutingKeyUploaded, ExchangeFiles, false, nil); err != nil {
		return fmt.Errorf("ошибка привязки очереди %s: %w", QueueUploaded, err)
	}

	// Парковочная очередь: по истечении TTL сообщение возвращается
	// в основной exchange на новый цикл доставки
	if _, err := ch.QueueDeclare(
		QueueUploadedRetry,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             retryTTLMillis,
			"x-dead-letter-exchange":    ExchangeFiles,
			"x-dead-letter-routing-key": RoutingKeyUploaded,
		},
	); err != nil {
		return fmt.Errorf("ошибка объявления очереди %s: %w", QueueUploadedRetry, err)
	}
	if err := ch.QueueBind(QueueUploadedRetry, RoutingKeyUploaded, ExchangeRetry, false, nil); err != nil {
		return fmt.Errorf("ошибка привязки очереди %s: %w", QueueUploadedRetry, err)
	}

	// Терминальная dead-letter очередь: потребляется только внешним
	// процессом разбора инцидентов
	if _, err := ch.QueueDeclare(
		QueueUploadedDLQ,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("ошибка объявления очереди %s: %w", QueueUploadedDLQ, err)
	}
	if err := ch.QueueBind(QueueUploadedDLQ, RoutingKeyDLQ, ExchangeFiles, false, nil); err != nil {
		return fmt.Errorf("ошибка привязки очереди %s: %w", QueueUploadedDLQ, err)
	}

	return nil
}
