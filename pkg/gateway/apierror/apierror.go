// Package apierror maps errors to the gateway's JSON error envelope.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/vai-jarvis/pkg/core"
)

// Types that only the gateway produces.
const (
	TypeAPI            core.ErrorType = "api_error"
	TypeAuthentication core.ErrorType = "authentication_error"
	TypeRateLimit      core.ErrorType = "rate_limit_error"
)

// Body is the error object sent to clients.
type Body struct {
	Type       core.ErrorType `json:"type"`
	Message    string         `json:"message"`
	Code       string         `json:"code,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"`
}

type Envelope struct {
	Error *Body `json:"error"`
}

func FromError(err error, requestID string) (*Body, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Body{Type: TypeAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Body{Type: TypeAPI, Message: "request cancelled", Code: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return &Body{
			Type:      coreErr.Type,
			Message:   coreErr.Message,
			Code:      coreErr.Code,
			RequestID: requestID,
		}, StatusFromType(coreErr.Type)
	}

	// Unknown errors: do not leak details.
	return &Body{Type: TypeAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case TypeAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrInsufficientData:
		return http.StatusUnprocessableEntity
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case core.ErrTransientRemote, core.ErrDeviceUnavailable, core.ErrVoiceUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrTerminalRemote, core.ErrClassification, core.ErrMalformedPayload, TypeAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write sends body as the JSON error envelope.
func Write(w http.ResponseWriter, status int, body *Body) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: body})
}

// WriteError maps err and writes it.
func WriteError(w http.ResponseWriter, err error, requestID string) {
	body, status := FromError(err, requestID)
	Write(w, status, body)
}
