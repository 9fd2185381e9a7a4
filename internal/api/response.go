package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ClassAssist/internal/controller"
	"github.com/BTreeMap/ClassAssist/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		// Use pre-marshaled fallback response - if this fails, we have bigger problems
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	// Write headers and response only after successful JSON marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusFor maps a domain error to its HTTP status and client-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrTurnInFlight),
		errors.Is(err, models.ErrNotEditable),
		errors.Is(err, models.ErrNotEditing):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrEmptyUtterance),
		errors.Is(err, models.ErrUtteranceTooLong),
		errors.Is(err, models.ErrEmptyUserID),
		errors.Is(err, models.ErrTooManyRoles),
		errors.Is(err, models.ErrInvalidTurnIndex),
		errors.Is(err, models.ErrInvalidRowIndex),
		errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrUnknownClassGroup):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, controller.ErrSpeechUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError writes err as an error envelope, logging server-side failures.
func writeError(w http.ResponseWriter, op string, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Server."+op+": request failed", "error", err)
	} else {
		slog.Warn("Server."+op+": request rejected", "status", code, "error", err)
	}
	writeJSONResponse(w, code, models.Error(msg))
}
