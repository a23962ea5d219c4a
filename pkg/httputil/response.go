// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/skyfactor/identity/pkg/errdefs"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError maps a classified error to its HTTP status and writes the
// standard error body. Internal errors never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	kind := errdefs.KindOf(err)
	message := err.Error()
	if kind == errdefs.KindInternal {
		message = "internal server error"
	}
	WriteJSON(w, errdefs.HTTPStatus(err), ErrorResponse{
		Code:    string(kind),
		Message: message,
	})
}

// WriteErrorMessage writes the standard error body with an explicit status
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Code: "error", Message: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Code:    string(errdefs.KindValidation),
		Message: message,
	})
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteCreated writes a successful creation response (201 Created)
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK)
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no body (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ListResponse wraps a result page with the total match count before paging
type ListResponse struct {
	Results    interface{} `json:"results"`
	TotalCount int         `json:"total_count"`
}

// WriteList writes the standard list envelope
func WriteList(w http.ResponseWriter, results interface{}, total int) error {
	return WriteSuccess(w, ListResponse{Results: results, TotalCount: total})
}
