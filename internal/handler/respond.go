package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/notez/internal/middleware"
	"github.com/dukerupert/notez/internal/model"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("request body must be valid JSON")

// errorBody is the shape of every JSON error response. Message is either a
// human readable string or a map of field name to messages.
type errorBody struct {
	Error   string `json:"error"`
	Message any    `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title string, message any) {
	writeJSON(w, status, errorBody{Error: title, Message: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "Bad Request", message)
}

// decodeJSON reads a single JSON value of at most maxBodyBytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("request body exceeds %d bytes", tooBig.Limit)
		}
		return errBadBody
	}
	if _, err := dec.Token(); err != io.EOF {
		return errBadBody
	}
	return nil
}

func parseIDParam(r *http.Request) (int64, error) {
	return parsePathID(r, "id")
}

// inputError is a malformed request parameter, reported as 400.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func parsePathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &inputError{msg: "invalid " + name}
	}
	return id, nil
}

// parseQueryID reads an optional positive integer query parameter.
func parseQueryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, &inputError{msg: "invalid " + name}
	}
	return &id, nil
}

// writePayloadError reports a body that fails its own field rules as 400,
// keeping the per-field messages.
func writePayloadError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, "Bad Request", verr.Fields)
		return
	}
	writeDomainError(w, r, logger, err)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is logged and reported as a bare 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *model.ValidationError
	var cerr *model.ConflictError
	var ierr *inputError
	switch {
	case errors.As(err, &ierr):
		badRequest(w, ierr.msg)
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "Validation Error", verr.Fields)
	case errors.As(err, &cerr):
		writeError(w, http.StatusConflict, "Conflict", map[string][]string{cerr.Field: {conflictMessage(cerr.Field)}})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not Found", nil)
	case errors.Is(err, model.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Unauthorized", nil)
	case errors.Is(err, model.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", nil)
	default:
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred.")
	}
}

func conflictMessage(field string) string {
	switch field {
	case "username":
		return "Username is already in use. Please choose a different one."
	case "email":
		return "Email address already in use."
	case "name":
		return "Name is already in use."
	}
	return "Already in use."
}

// owned returns model.ErrUnauthorized unless ownerID is the caller.
func owned(ownerID, userID int64) error {
	if ownerID != userID {
		return model.ErrUnauthorized
	}
	return nil
}
