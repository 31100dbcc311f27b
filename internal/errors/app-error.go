package app_error

import (
	"encoding/json"
	"net/http"
)

// Kind classifies failures so callers can decide whether to retry,
// surface, or silently drop.
type Kind string

const (
	KindTransient  Kind = "transient"   // network/timeout, retried once then logged
	KindNotFound   Kind = "not_found"   // surfaced to caller, no retry
	KindStaleWrite Kind = "stale_write" // older timestamp than stored, silently discarded
	KindValidation Kind = "validation"  // malformed event, dropped with a log entry
)

type AppError struct {
	Code    int    `json:"-"`
	Kind    Kind   `json:"-"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e AppError) Error() string {
	return e.Message
}

func (e AppError) JSON(w http.ResponseWriter) error {
	return json.NewEncoder(w).Encode(e)
}

func (e *AppError) IsKind(k Kind) bool {
	return e != nil && e.Kind == k
}

func NewAppError(code int, msg, field string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kindFromCode(code),
		Message: msg,
		Field:   field,
	}
}

func Transient(msg, field string) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, Kind: KindTransient, Message: msg, Field: field}
}

func NotFound(msg, field string) *AppError {
	return &AppError{Code: http.StatusNotFound, Kind: KindNotFound, Message: msg, Field: field}
}

func StaleWrite(msg, field string) *AppError {
	return &AppError{Code: http.StatusConflict, Kind: KindStaleWrite, Message: msg, Field: field}
}

func Validation(msg, field string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Kind: KindValidation, Message: msg, Field: field}
}

func kindFromCode(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusBadRequest:
		return KindValidation
	case code >= 500:
		return KindTransient
	default:
		return ""
	}
}
