package model

import "testing"

func TestFileStatusValid(t *testing.T) {
	valid := []FileStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("статус %s должен быть допустимым", s)
		}
	}

	invalid := []FileStatus{"", "Pending", "done", "unknown"}
	for _, s := range invalid {
		if s.Valid() {
			t.Errorf("статус %q не должен быть допустимым", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to FileStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusFailed, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusCompleted, StatusFailed, true},

		// Прямые переходы без захвата запрещены
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusPending, false},
		{StatusProcessing, StatusPending, false},
		{StatusProcessing, StatusProcessing, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, ожидалось %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNewFileRecord(t *testing.T) {
	rec := NewFileRecord("документ.pdf", "application/pdf", 1024, "/tmp/x")

	if rec.FileID == "" {
		t.Error("file_id должен генерироваться")
	}
	if rec.Status != StatusPending {
		t.Errorf("новая запись должна быть pending, получен %s", rec.Status)
	}
	if rec.RetryCount != 0 {
		t.Errorf("retry_count новой записи должен быть 0, получен %d", rec.RetryCount)
	}
	if rec.DeadLettered {
		t.Error("новая запись не должна быть dead_lettered")
	}
	if rec.FinalPath != nil {
		t.Error("final_path новой записи должен быть пуст")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at должен заполняться")
	}
}
