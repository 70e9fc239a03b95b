package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/bnema/warmpool/internal/domain"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// classify maps a guard failure to an HTTP status and a response body. Capability
// errors keep the upstream message, name and stack.
func classify(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}

	switch {
	case errors.Is(err, domain.ErrStreamInterrupted):
		body.Type = "stream_interrupted"
		return http.StatusBadGateway, body
	case errors.Is(err, domain.ErrLimitReached):
		body.Type = "limit_reached"
		if capErr, ok := domain.AsCapabilityError(err); ok {
			body.Name = capErr.Name
		}
		return http.StatusTooManyRequests, body
	case errors.Is(err, domain.ErrPoolUnavailable), errors.Is(err, domain.ErrPoolClosed):
		body.Type = "pool_unavailable"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Type = "timeout"
		return http.StatusGatewayTimeout, body
	}

	if capErr, ok := domain.AsCapabilityError(err); ok {
		return http.StatusUnprocessableEntity, errorBody{
			Type:    "capability_error",
			Message: capErr.Message,
			Name:    capErr.Name,
			Stack:   capErr.Stack,
		}
	}

	body.Type = "upstream_error"
	return http.StatusBadGateway, body
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, errorResponse{Error: body})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Type: "invalid_request", Message: message}})
}
