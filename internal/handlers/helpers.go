package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/pce/internal/models"
)

// maxBodyBytes caps request bodies accepted by the API
const maxBodyBytes = 1 << 20

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteAccepted writes a standard "accepted" JSON response for queued work.
func WriteAccepted(w http.ResponseWriter, jobID string) error {
	return WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"job_id": jobID,
	})
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs), errors.Is(err, models.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrDuplicatePipeline),
		errors.Is(err, models.ErrIllegalTransition),
		errors.Is(err, models.ErrAlreadyCompleted),
		errors.Is(err, models.ErrNotRetryable),
		errors.Is(err, models.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrPipelineNotFound),
		errors.Is(err, models.ErrQueueNotFound),
		errors.Is(err, models.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteServiceError writes err with the status StatusFor assigns it.
func WriteServiceError(w http.ResponseWriter, err error) error {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	return WriteError(w, status, message)
}

// DecodeJSON decodes the request body into v. An empty body leaves v unchanged.
func DecodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

// QueryInt reads a positive integer query parameter, returning fallback when
// missing or invalid.
func QueryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
