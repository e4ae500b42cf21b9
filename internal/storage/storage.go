// Пакет storage — контракт файлового хранилища конвейера.
// Хранилище эксклюзивно владеет байтами по temp/final локаторам:
// никакой другой компонент не трогает содержимое файлов напрямую.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound — объект по указанному локатору не существует.
var ErrNotFound = errors.New("объект не найден в хранилище")

// FileStorage — перемещение байтов между временной и постоянной областями.
// Локаторы непрозрачны для вызывающего кода: их формат — деталь бэкенда.
type FileStorage interface {
	// PutTemp записывает поток во временную область и возвращает локатор.
	// Запись атомарна: при прерывании локатор не резолвится.
	PutTemp(ctx context.Context, r io.Reader, name string) (string, error)
	// OpenTemp открывает временный объект на чтение.
	// Возвращает ErrNotFound, если локатор не резолвится.
	OpenTemp(ctx context.Context, path string) (io.ReadCloser, error)
	// MoveToFinal перемещает объект в постоянную область. Идемпотентна:
	// если объект уже существует по вычисленному final-локатору,
	// возвращает его без ошибки и без повторного копирования
	// (повторная доставка после сбоя между перемещением и фиксацией в БД).
	MoveToFinal(ctx context.Context, tempPath, finalName string) (string, error)
	// DeleteTemp удаляет временный объект. Отсутствие объекта — не ошибка.
	DeleteTemp(ctx context.Context, path string) error
	// CheckHealth проверяет, что бэкенд доступен на запись
	// (round-trip запись/удаление пробного объекта).
	CheckHealth(ctx context.Context) error
}

// ReadinessChecker — проверка готовности хранилища для health endpoint.
type ReadinessChecker struct {
	store FileStorage
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(store FileStorage) *ReadinessChecker {
	return &ReadinessChecker{store: store}
}

// CheckReady выполняет CheckHealth с таймаутом.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.CheckHealth(ctx); err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	return "ok", "хранилище доступно"
}
