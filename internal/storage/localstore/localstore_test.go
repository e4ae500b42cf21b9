package localstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigkaa/fileproc/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutTempAndOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path, err := s.PutTemp(ctx, strings.NewReader("содержимое"), "файл.txt")
	if err != nil {
		t.Fatalf("PutTemp: %v", err)
	}

	// .part файла не осталось
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Error(".part файл должен быть переименован")
	}

	f, err := s.OpenTemp(ctx, path)
	if err != nil {
		t.Fatalf("OpenTemp: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "содержимое" {
		t.Errorf("прочитано %q, ожидалось %q", data, "содержимое")
	}
}

func TestOpenTempNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.OpenTemp(context.Background(), filepath.Join(s.baseTemp, "нет.txt"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ожидалась ошибка ErrNotFound, получена %v", err)
	}
}

func TestMoveToFinalKeepsExtension(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tempPath, err := s.PutTemp(ctx, strings.NewReader("данные"), "исходник.pdf")
	if err != nil {
		t.Fatalf("PutTemp: %v", err)
	}

	finalPath, err := s.MoveToFinal(ctx, tempPath, "abc-123")
	if err != nil {
		t.Fatalf("MoveToFinal: %v", err)
	}

	if filepath.Ext(finalPath) != ".pdf" {
		t.Errorf("расширение исходного файла должно сохраняться, получен %s", finalPath)
	}
	if filepath.Base(finalPath) != "abc-123.pdf" {
		t.Errorf("имя final файла = %s, ожидалось abc-123.pdf", filepath.Base(finalPath))
	}

	// Временный файл исчез
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Error("временный файл должен быть перемещён")
	}
}

func TestMoveToFinalIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tempPath, err := s.PutTemp(ctx, strings.NewReader("данные"), "файл.txt")
	if err != nil {
		t.Fatalf("PutTemp: %v", err)
	}

	first, err := s.MoveToFinal(ctx, tempPath, "id-1")
	if err != nil {
		t.Fatalf("первое перемещение: %v", err)
	}

	// Повторная доставка: temp уже отсутствует, final существует
	second, err := s.MoveToFinal(ctx, tempPath, "id-1")
	if err != nil {
		t.Fatalf("повторное перемещение должно быть no-op: %v", err)
	}
	if first != second {
		t.Errorf("повторное перемещение вернуло %s, ожидалось %s", second, first)
	}
}

func TestMoveToFinalMissingSource(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MoveToFinal(context.Background(), filepath.Join(s.baseTemp, "нет.txt"), "id-2")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ожидалась ошибка ErrNotFound, получена %v", err)
	}
}

func TestDeleteTempTolerant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path, err := s.PutTemp(ctx, strings.NewReader("x"), "файл.txt")
	if err != nil {
		t.Fatalf("PutTemp: %v", err)
	}

	if err := s.DeleteTemp(ctx, path); err != nil {
		t.Fatalf("DeleteTemp: %v", err)
	}
	// Повторное удаление — не ошибка
	if err := s.DeleteTemp(ctx, path); err != nil {
		t.Errorf("повторное удаление должно быть no-op: %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.PutTemp(ctx, strings.NewReader("x"), "../побег.txt"); err == nil {
		t.Error("PutTemp должен отклонять имена с разделителями пути")
	}
	if _, err := s.OpenTemp(ctx, "/etc/passwd"); err == nil {
		t.Error("OpenTemp должен отклонять локаторы вне области хранилища")
	}
	if err := s.DeleteTemp(ctx, filepath.Join(s.baseTemp, "..", "побег")); err == nil {
		t.Error("DeleteTemp должен отклонять локаторы вне области хранилища")
	}
}

func TestCheckHealth(t *testing.T) {
	s := newTestStore(t)

	if err := s.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth: %v", err)
	}

	// Пробные файлы не остаются
	entries, err := os.ReadDir(s.baseTemp)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("после CheckHealth временная область должна быть пуста, найдено %d", len(entries))
	}
}
