// Пакет localstore — файловое хранилище на локальном диске.
// Две области под общей базовой директорией: temp/ и final/.
package localstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/fileproc/internal/storage"
)

// Store — локальное дисковое хранилище.
type Store struct {
	baseTemp  string
	baseFinal string
}

// New создаёт хранилище под basePath. Создаёт директории temp/ и final/,
// если они не существуют.
func New(basePath string) (*Store, error) {
	baseTemp := filepath.Join(basePath, "temp")
	baseFinal := filepath.Join(basePath, "final")

	if err := os.MkdirAll(baseTemp, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать временную директорию %s: %w", baseTemp, err)
	}
	if err := os.MkdirAll(baseFinal, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать постоянную директорию %s: %w", baseFinal, err)
	}

	return &Store{baseTemp: baseTemp, baseFinal: baseFinal}, nil
}

// PutTemp записывает поток во временную область.
//
// Паттерн: запись в .part файл → fsync → атомарный rename.
// При ошибке .part файл удаляется, локатор не резолвится.
func (s *Store) PutTemp(_ context.Context, r io.Reader, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	path := filepath.Join(s.baseTemp, name)
	partPath := path + ".part"

	f, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(partPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(partPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return path, nil
}

// OpenTemp открывает временный файл на чтение.
// Вызывающий код обязан закрыть ReadCloser.
func (s *Store) OpenTemp(_ context.Context, path string) (io.ReadCloser, error) {
	if err := s.checkWithin(s.baseTemp, path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	return f, nil
}

// MoveToFinal перемещает временный файл в постоянную область.
// Расширение исходного файла сохраняется: final локатор —
// final/{finalName}{ext}. Если файл уже существует по final локатору,
// возвращает его без повторного перемещения.
func (s *Store) MoveToFinal(_ context.Context, tempPath, finalName string) (string, error) {
	if err := s.checkWithin(s.baseTemp, tempPath); err != nil {
		return "", err
	}
	if err := validateName(finalName); err != nil {
		return "", err
	}

	finalPath := filepath.Join(s.baseFinal, finalName+filepath.Ext(tempPath))

	// Идемпотентность: повторная доставка после сбоя между перемещением
	// и обновлением записи в БД
	if _, err := os.Stat(finalPath); err == nil {
		return finalPath, nil
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", storage.ErrNotFound, tempPath)
		}
		return "", fmt.Errorf("ошибка перемещения %s: %w", tempPath, err)
	}
	return finalPath, nil
}

// DeleteTemp удаляет временный файл. Отсутствие файла — не ошибка.
func (s *Store) DeleteTemp(_ context.Context, path string) error {
	if err := s.checkWithin(s.baseTemp, path); err != nil {
		return err
	}

	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
	}
	return nil
}

// CheckHealth выполняет round-trip запись/удаление пробного файла
// во временной области.
func (s *Store) CheckHealth(_ context.Context) error {
	probe := filepath.Join(s.baseTemp, ".healthcheck-"+uuid.New().String())

	if err := os.WriteFile(probe, []byte("ok"), 0o640); err != nil {
		return fmt.Errorf("хранилище недоступно на запись: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("хранилище недоступно на удаление: %w", err)
	}
	return nil
}

// checkWithin защищает от path traversal: локатор обязан находиться
// внутри соответствующей области хранилища.
func (s *Store) checkWithin(base, path string) error {
	rel, err := filepath.Rel(base, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("недопустимый локатор %q: вне области хранилища", path)
	}
	return nil
}

// validateName запрещает разделители пути в имени объекта.
func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("недопустимое имя объекта %q", name)
	}
	return nil
}

// Проверка на этапе компиляции
var _ storage.FileStorage = (*Store)(nil)
