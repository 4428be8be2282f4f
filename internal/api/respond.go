package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vulnhawk/vulnhawk/internal/errors"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err, "path", r.URL.Path)
	}
}

// writeError maps a domain error onto an HTTP status and writes the envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorStatus(w, r, statusForCode(errors.GetCode(err)), err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Error("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	s.writeJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Code:      string(errors.GetCode(err)),
		Timestamp: time.Now().UTC(),
	})
}

// statusForCode maps domain error codes onto HTTP statuses. Unknown codes are
// treated as internal failures.
func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeValidation, errors.CodeTargetInvalid, errors.CodeModuleUnknown:
		return http.StatusBadRequest
	case errors.CodeTargetUnverified:
		return http.StatusForbidden
	case errors.CodeConflict, errors.CodeScanTerminal, errors.CodeExportUnavailable:
		return http.StatusConflict
	case errors.CodeDatabaseConnection, errors.CodeDatabaseTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseJSON strictly decodes a JSON request body into v.
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.NewValidationError("Request body is required")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.NewValidationError(fmt.Sprintf("Invalid JSON body: %v", err))
	}
	return nil
}

// pathUUID extracts and parses a UUID path variable.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewFieldValidationError("Invalid UUID", name, raw)
	}
	return id, nil
}

// parseUUIDField parses a UUID carried in a request body field.
func parseUUIDField(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewFieldValidationError("Invalid UUID", field, raw)
	}
	return id, nil
}

// queryUUID parses an optional UUID query parameter. Returns nil when absent.
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.NewFieldValidationError("Invalid UUID", name, raw)
	}
	return &id, nil
}

// paginationParams holds limit/offset derived from page query parameters.
type paginationParams struct {
	Page     int
	PageSize int
	Offset   int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pagination extracts page and page_size with bounds applied.
func pagination(r *http.Request) paginationParams {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return paginationParams{Page: page, PageSize: pageSize, Offset: (page - 1) * pageSize}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// routeTemplate returns the mux route pattern for metric labels, keeping
// per-resource IDs out of the label set.
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return template
}
