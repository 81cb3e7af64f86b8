package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"tradejournal/pkg/journal"
)

// Response represents a successful API response with unified format.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse represents an error API response with structured information.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeSuccess writes a successful response with data.
func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{
		Code: 0,
		Data: data,
	})
}

// writeSuccessWithMessage writes a successful response with data and message.
func writeSuccessWithMessage(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// writeErrorResponse writes an error response. Structured errors pick their
// own HTTP status; httpStatus applies to everything else.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, httpStatus int, err error) {
	response := ErrorResponse{
		Code:    httpStatus,
		Message: err.Error(),
	}

	if code := journal.ErrorCodeOf(err); code != "" {
		response.ErrorCode = string(code)
		httpStatus = mapErrorCodeToHTTPStatus(code)
		response.Code = httpStatus
	}
	if r != nil {
		response.RequestID = middleware.GetReqID(r.Context())
	}
	if lw, ok := w.(interface{ SetErrorMessage(string) }); ok {
		lw.SetErrorMessage(response.Message)
	}

	writeJSON(w, httpStatus, response)
}

// mapErrorCodeToHTTPStatus maps business error codes to HTTP status codes.
func mapErrorCodeToHTTPStatus(code journal.ErrorCode) int {
	switch code {
	case journal.ErrCodeInvalidInput, journal.ErrCodeValidation, journal.ErrCodeDecode:
		return http.StatusBadRequest
	case journal.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case journal.ErrCodeNotFound:
		return http.StatusNotFound
	case journal.ErrCodeDuplicate:
		return http.StatusConflict
	case journal.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case journal.ErrCodeSubscription:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
