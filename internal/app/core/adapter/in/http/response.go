package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON 統一輸出成功回應
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// writeError 依 domain 錯誤決定狀態碼，非業務錯誤一律 500 且不外洩細節
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeMessage(w, code, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidUsername),
		errors.Is(err, domain.ErrInvalidPassword),
		errors.Is(err, domain.ErrSameAccount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountAlreadyExists),
		errors.Is(err, domain.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout),
		errors.Is(err, domain.ErrLockConflict),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
