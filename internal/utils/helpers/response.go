package helpers

import (
	"encoding/json"
	"errors"
	"net/http"

	"clubhouse/internal/ordering"
)

type Response struct {
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(Response{Data: data})
	if err != nil {
		return
	}
}

func Error(w http.ResponseWriter, status int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(Response{Error: errMsg})
	if err != nil {
		return
	}
}

// StatusFor — HTTP-статус для ошибки движка упорядочивания.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ordering.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ordering.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ordering.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ordering.ErrScopeViolation), errors.Is(err, ordering.ErrCycleDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ordering.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// OrderingError пишет ошибку с кодом таксономии; клиент повторяет запрос при retryable.
// Текст ошибок хранилища наружу не отдаётся.
func OrderingError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusServiceUnavailable {
		msg = "storage unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Error:     msg,
		Code:      ordering.Code(err),
		Retryable: ordering.Retryable(err),
	})
}
