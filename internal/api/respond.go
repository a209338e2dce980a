package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rflorenc/state-handoff/internal/handoff"
	"github.com/rflorenc/state-handoff/internal/host"
	"github.com/rflorenc/state-handoff/internal/models"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a host or handoff error to an HTTP status.
func statusFor(err error) int {
	switch {
	// Checked first: a failed pull wraps the source's denial.
	case errors.Is(err, handoff.ErrRemoteQueryFailed):
		return http.StatusBadGateway
	case errors.Is(err, handoff.ErrUnauthorized),
		errors.Is(err, handoff.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, host.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, handoff.ErrInvalidMessage),
		errors.Is(err, handoff.ErrUnknownMessage),
		errors.Is(err, host.ErrCodeHashMismatch),
		errors.Is(err, host.ErrUnknownKind),
		errors.Is(err, host.ErrDepthExceeded):
		return http.StatusBadRequest
	case errors.Is(err, handoff.ErrContractFrozen),
		errors.Is(err, handoff.ErrAlreadyMigrated),
		errors.Is(err, handoff.ErrSecretNotSet),
		errors.Is(err, handoff.ErrSecretAlreadySet),
		errors.Is(err, handoff.ErrAlreadyImported),
		errors.Is(err, handoff.ErrNotImported),
		errors.Is(err, handoff.ErrInsufficientFunds),
		errors.Is(err, models.ErrDuplicateLabel):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeHostError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger().Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// readBody returns the request body as a JSON message. An empty body is {}.
func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var msg json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return json.RawMessage(`{}`), true
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	return msg, true
}
