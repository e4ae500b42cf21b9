package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubChecker — фиксированный результат проверки готовности.
type stubChecker struct {
	status  string
	message string
}

func (c stubChecker) CheckReady() (string, string) {
	return c.status, c.message
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	h.Live(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("код = %d, ожидался 200", rec.Code)
	}
}

func TestHealthReadyAllOK(t *testing.T) {
	h := NewHealthHandler(map[string]ReadinessChecker{
		"postgresql": stubChecker{"ok", "подключение активно"},
		"rabbitmq":   stubChecker{"ok", "подключение активно"},
	})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	h.Ready(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("код = %d, ожидался 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("статус = %q, ожидался ok", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("количество проверок = %d, ожидалось 2", len(resp.Checks))
	}
}

func TestHealthReadyDependencyDown(t *testing.T) {
	h := NewHealthHandler(map[string]ReadinessChecker{
		"postgresql": stubChecker{"ok", "подключение активно"},
		"rabbitmq":   stubChecker{"fail", "подключение закрыто"},
	})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	h.Ready(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("код = %d, ожидался 503", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Status != "fail" {
		t.Errorf("статус = %q, ожидался fail", resp.Status)
	}
}
