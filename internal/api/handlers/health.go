package handlers

import (
	"net/http"

	"github.com/bigkaa/fileproc/internal/config"
)

// ReadinessChecker — проверка готовности одной зависимости.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// healthResponse — тело ответа health endpoint-ов.
type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthHandler — liveness и readiness проверки.
type HealthHandler struct {
	checkers map[string]ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoint-ов.
// checkers — именованные проверки зависимостей (база, брокер, хранилище).
func NewHealthHandler(checkers map[string]ReadinessChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

// Live обрабатывает GET /health/live: процесс жив.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: config.Version,
	})
}

// Ready обрабатывает GET /health/ready: все зависимости доступны.
// Любая неудачная проверка даёт 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for name, checker := range h.checkers {
		status, message := checker.CheckReady()
		checks[name] = status + ": " + message
		if status != "ok" {
			allOK = false
		}
	}

	resp := healthResponse{
		Status:  "ok",
		Version: config.Version,
		Checks:  checks,
	}
	code := http.StatusOK
	if !allOK {
		resp.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
