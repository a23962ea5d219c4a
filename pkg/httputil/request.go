package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSON decodes a JSON request body into the given destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 400 error on failure.
// Returns false if an error response was written.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// PathString extracts a required path variable from the request
func PathString(r *http.Request, name string) (string, error) {
	value, ok := mux.Vars(r)[name]
	if !ok || value == "" {
		return "", fmt.Errorf("missing path parameter: %s", name)
	}
	return value, nil
}

// PathStringOrError extracts a path variable and writes a 400 error if missing.
// Returns the value and false if an error response was written.
func PathStringOrError(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value, err := PathString(r, name)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return value, true
}

// QueryBool parses an optional boolean query parameter, returning the
// default when absent or malformed
func QueryBool(r *http.Request, name string, defaultValue bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

// QueryInt parses an optional integer query parameter, returning the
// default when absent or malformed
func QueryInt(r *http.Request, name string, defaultValue int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
