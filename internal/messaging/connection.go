// connection.go — подключение к RabbitMQ с повторными попытками.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectWithRetry подключается к RabbitMQ, повторяя попытки с паузой.
// Брокер может стартовать позже приложения (например, в docker-compose).
func ConnectWithRetry(ctx context.Context, url string, maxRetries int, delay time.Duration, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("Подключение к RabbitMQ установлено")
			return conn, nil
		}

		logger.Warn("Не удалось подключиться к RabbitMQ",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", maxRetries),
			slog.String("error", err.Error()),
		)

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, err)
}

// ReadinessChecker — проверка готовности RabbitMQ для health endpoint.
type ReadinessChecker struct {
	conn *amqp.Connection
}

// NewReadinessChecker создаёт проверку готовности RabbitMQ.
func NewReadinessChecker(conn *amqp.Connection) *ReadinessChecker {
	return &ReadinessChecker{conn: conn}
}

// CheckReady проверяет состояние подключения к брокеру.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	if c.conn == nil || c.conn.IsClosed() {
		return "fail", "подключение к RabbitMQ закрыто"
	}
	return "ok", "подключение активно"
}
