// Пакет errors — единый формат ошибок HTTP API.
package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Коды ошибок API.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeNotFound      = "NOT_FOUND"
	CodeFileTooLarge  = "FILE_TOO_LARGE"
	CodeInternalError = "INTERNAL_ERROR"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — код и описание ошибки.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ошибку в формате JSON.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	}); err != nil {
		slog.Error("Ошибка записи ответа", slog.String("error", err.Error()))
	}
}

// BadRequest — 400.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

// NotFound — 404.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// FileTooLarge — 413.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// InternalError — 500.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
