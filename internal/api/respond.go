package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"juris/internal/logging"
	"juris/internal/storage"
	"juris/internal/types"
)

const maxJSONBody = 1 << 20

// envelope is the body of every JSON response. Code is 0 on success and
// the HTTP status otherwise.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Code: 0, Message: "ok", Data: data}); err != nil {
		logging.APIDebug("Failed to encode response: %v", err)
	}
}

func ok(w http.ResponseWriter, data any) { writeJSON(w, http.StatusOK, data) }

func created(w http.ResponseWriter, data any) { writeJSON(w, http.StatusCreated, data) }

// statusOf maps service errors onto HTTP statuses.
func statusOf(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends err in the envelope. Server-side failures are logged
// with the request id and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		logging.APIError("rid=%s %s %s unavailable: %v", requestID(r.Context()), r.Method, r.URL.Path, err)
		msg = "service temporarily unavailable"
	case status >= 500:
		logging.APIError("rid=%s %s %s failed: %v", requestID(r.Context()), r.Method, r.URL.Path, err)
		msg = "internal server error"
	}
	writeStatus(w, status, msg)
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: status, Message: msg})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return err
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is required: %w", types.ErrInvalid)
		default:
			return fmt.Errorf("malformed JSON body: %w", types.ErrInvalid)
		}
	}
	return nil
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, types.ErrInvalid)
	}
	return n, nil
}

// sendFile writes a download response.
func sendFile(w http.ResponseWriter, filename, contentType string, size int64, body io.Reader) error {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	h.Set("X-Content-Type-Options", "nosniff")
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, err := io.Copy(w, body)
	return err
}
