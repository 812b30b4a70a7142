package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// errorEnvelope is the JSON error body for every API response. meta
// carries the request path and method so clients can correlate without
// parsing logs.
type errorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id"`
	Fields  map[string]string `json:"fields,omitempty"`
	Meta    envelopeMeta      `json:"meta"`
}

type envelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{
		Code:    code,
		Message: message,
		TraceID: traceID(r),
		Meta:    envelopeMeta{Path: r.URL.Path, Method: r.Method},
	})
}

// writeError maps an error kind to its status and envelope. Unknown
// errors are logged and surface only the correlation id.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	env := errorEnvelope{
		TraceID: traceID(r),
		Meta:    envelopeMeta{Path: r.URL.Path, Method: r.Method},
	}
	status := http.StatusInternalServerError
	switch {
	case httperr.IsUnauthenticated(err):
		status, env.Code, env.Message = http.StatusUnauthorized, "authentication_required", err.Error()
	case httperr.IsForbidden(err):
		status, env.Code, env.Message = http.StatusForbidden, "forbidden", err.Error()
	case httperr.IsNotFound(err) || err == store.ErrNotFound:
		status, env.Code, env.Message = http.StatusNotFound, "not_found", "not found"
	case err == store.ErrConflict || err == store.ErrCrossTenant || httperr.IsConflict(err):
		status, env.Code, env.Message = http.StatusConflict, "conflict", "operation conflicts with current state"
	case httperr.IsUnavailable(err):
		status, env.Code, env.Message = http.StatusServiceUnavailable, "unavailable", err.Error()
	default:
		if v, ok := httperr.AsValidation(err); ok {
			status, env.Code, env.Message = http.StatusBadRequest, "validation_failed", "validation failed"
			env.Fields = v.Fields
			break
		}
		if rl, ok := httperr.AsRateLimited(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds))
			status, env.Code, env.Message = http.StatusTooManyRequests, "rate_limited", "too many requests"
			break
		}
		env.Code, env.Message = "internal_error", "internal error"
		log.Error().Err(err).
			Str("trace_id", env.TraceID).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg("request failed")
	}
	writeJSON(w, status, env)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return httperr.NewFieldError("body", "invalid json")
	}
	return nil
}

// clientIP strips the port from the remote address.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i > 0 && !strings.HasSuffix(addr, "]") {
		return strings.Trim(addr[:i], "[]")
	}
	return addr
}
