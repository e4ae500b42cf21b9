// Пакет miniostore — файловое хранилище поверх MinIO/S3.
// Временная и постоянная области — отдельные bucket-ы; локатор —
// ключ объекта внутри соответствующего bucket-а.
package miniostore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/fileproc/internal/storage"
)

// Store — хранилище поверх MinIO.
type Store struct {
	client      *minio.Client
	tempBucket  string
	finalBucket string
}

// Options — параметры подключения к MinIO.
type Options struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	TempBucket  string
	FinalBucket string
}

// New создаёт хранилище поверх MinIO и гарантирует существование bucket-ов.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации MinIO клиента: %w", err)
	}

	s := &Store{
		client:      client,
		tempBucket:  opts.TempBucket,
		finalBucket: opts.FinalBucket,
	}

	for _, bucket := range []string{opts.TempBucket, opts.FinalBucket} {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}

	logger.Info("MinIO хранилище инициализировано",
		slog.String("endpoint", opts.Endpoint),
		slog.String("temp_bucket", opts.TempBucket),
		slog.String("final_bucket", opts.FinalBucket),
	)
	return s, nil
}

// ensureBucket создаёт bucket, если он не существует.
func (s *Store) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("ошибка проверки bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("ошибка создания bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PutTemp загружает поток во временный bucket.
// MinIO собирает объект из multipart-частей: частично записанный
// объект не становится видимым по ключу.
func (s *Store) PutTemp(ctx context.Context, r io.Reader, name string) (string, error) {
	_, err := s.client.PutObject(ctx, s.tempBucket, name, r, -1, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("ошибка загрузки объекта %s: %w", name, err)
	}
	return name, nil
}

// OpenTemp открывает временный объект на чтение.
// Stat вызывается сразу: GetObject у MinIO ленивый и не сообщает
// об отсутствии объекта до первого чтения.
func (s *Store) OpenTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.tempBucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия объекта %s: %w", path, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", path, err)
	}
	return obj, nil
}

// MoveToFinal копирует объект в постоянный bucket и удаляет временный.
// Если объект уже существует по final-ключу, возвращает его без
// повторного копирования.
func (s *Store) MoveToFinal(ctx context.Context, tempPath, finalName string) (string, error) {
	finalKey := finalName + filepath.Ext(tempPath)

	// Идемпотентность: повторная доставка после сбоя между перемещением
	// и обновлением записи в БД
	if _, err := s.client.StatObject(ctx, s.finalBucket, finalKey, minio.StatObjectOptions{}); err == nil {
		return finalKey, nil
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.finalBucket, Object: finalKey},
		minio.CopySrcOptions{Bucket: s.tempBucket, Object: tempPath},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return "", fmt.Errorf("%w: %s", storage.ErrNotFound, tempPath)
		}
		return "", fmt.Errorf("ошибка копирования объекта %s: %w", tempPath, err)
	}

	// Источник удаляется best-effort: осиротевший временный объект
	// подчистит вызов DeleteTemp на пути успешного завершения
	_ = s.client.RemoveObject(ctx, s.tempBucket, tempPath, minio.RemoveObjectOptions{})

	return finalKey, nil
}

// DeleteTemp удаляет временный объект. Отсутствие объекта — не ошибка.
func (s *Store) DeleteTemp(ctx context.Context, path string) error {
	err := s.client.RemoveObject(ctx, s.tempBucket, path, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", path, err)
	}
	return nil
}

// CheckHealth выполняет round-trip запись/удаление пробного объекта
// во временном bucket-е.
func (s *Store) CheckHealth(ctx context.Context) error {
	probe := ".healthcheck-" + uuid.New().String()

	_, err := s.client.PutObject(ctx, s.tempBucket, probe,
		strings.NewReader("ok"), 2, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("хранилище недоступно на запись: %w", err)
	}
	if err := s.client.RemoveObject(ctx, s.tempBucket, probe, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("хранилище недоступно на удаление: %w", err)
	}
	return nil
}

// isNoSuchKey проверяет, что ошибка MinIO означает отсутствие объекта.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

// Проверка на этапе компиляции
var _ storage.FileStorage = (*Store)(nil)
