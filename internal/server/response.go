package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

// Response is the envelope returned by every JSON endpoint.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Success(data any) *Response {
	return &Response{Code: http.StatusOK, Message: "success", Data: data}
}

func Accepted(message string) *Response {
	return &Response{Code: http.StatusAccepted, Message: message}
}

func BadRequest(err string) *Response {
	return &Response{Code: http.StatusBadRequest, Message: "bad request", Error: err}
}

func NotFound(err string) *Response {
	return &Response{Code: http.StatusNotFound, Message: "not found", Error: err}
}

func ServiceUnavailable(err string) *Response {
	return &Response{Code: http.StatusServiceUnavailable, Message: "service unavailable", Error: err}
}

func InternalError(err string) *Response {
	return &Response{Code: http.StatusInternalServerError, Message: "internal server error", Error: err}
}

// WriteJSON writes the response with its code as the HTTP status.
func (r *Response) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.Code)
	if err := json.NewEncoder(w).Encode(r); err != nil {
		logging.Debug("Server", "Failed to write response: %v", err)
	}
}

// errorResponse maps handler errors onto HTTP statuses.
func errorResponse(err error) *Response {
	switch {
	case api.IsNotFound(err):
		return NotFound(err.Error())
	case errors.Is(err, api.ErrNotRunning):
		return ServiceUnavailable(err.Error())
	default:
		return InternalError(err.Error())
	}
}
