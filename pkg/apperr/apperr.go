package apperr

import (
	"errors"
	"net/http"
)

// Error types follow the ErrCode/StatusCode convention so transport layers and
// the circuit breaker can classify failures without string matching.

// GenericError is the classification contract every typed error here
// satisfies. The REST recovery middleware uses it to map panics to responses.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND_ERROR" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "VALIDATION_ERROR" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type InternalServerError string

func (err InternalServerError) Error() string   { return string(err) }
func (err InternalServerError) ErrCode() string { return "INTERNAL_SERVER_ERROR" }
func (err InternalServerError) StatusCode() int { return http.StatusInternalServerError }

// ConflictError signals an operation refused because another live resource
// already claims the same identity (e.g. a phone number bound to a session).
type ConflictError string

func (err ConflictError) Error() string   { return string(err) }
func (err ConflictError) ErrCode() string { return "CONFLICT_ERROR" }
func (err ConflictError) StatusCode() int { return http.StatusConflict }

// ProviderError carries the HTTP-status-like code returned by an external
// provider (Meta, OpenAI, SMS gateways). Retry logic inspects Code to decide
// whether a failure is transient.
type ProviderError struct {
	Provider string
	Code     int
	Message  string
}

func (e *ProviderError) Error() string   { return e.Message }
func (e *ProviderError) ErrCode() string { return "PROVIDER_ERROR" }
func (e *ProviderError) StatusCode() int { return e.Code }

// IsRetryable reports whether err is a transient provider failure: network
// timeouts (code 0), 5xx and 429. Quota exhaustion and other 4xx are permanent.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == 0 || pe.Code >= 500 || pe.Code == http.StatusTooManyRequests
}

// IsQuotaExhausted reports the provider signalled hard quota exhaustion,
// which must not be retried and should raise an operator notification.
func IsQuotaExhausted(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == http.StatusPaymentRequired || pe.Code == http.StatusForbidden
}
