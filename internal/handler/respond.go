package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/templui/linkpage/internal/service"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusFor maps a service error kind to the HTTP status returned for it.
func StatusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindExpired:
		return http.StatusGone
	case service.KindGateway:
		return http.StatusBadGateway
	case service.KindUnauthenticated:
		return http.StatusUnauthorized
	case service.KindUnverified, service.KindForbidden:
		return http.StatusForbidden
	case service.KindDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError answers with the error's user-facing message. Unclassified
// errors are logged and hidden behind a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	status := StatusFor(kind)
	if status >= 500 {
		slog.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	} else {
		slog.Debug("request rejected", "error", err, "kind", kind.String(), "path", r.URL.Path)
	}
	writeJSON(w, status, errorResponse{Error: service.MessageOf(err), Kind: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

var errBadBody = errors.New("request body must be a JSON object")

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		slog.Debug("invalid request body", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadBody.Error(), Kind: service.KindValidation.String()})
		return false
	}
	return true
}
