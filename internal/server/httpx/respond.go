// Package httpx holds the HTTP plumbing shared by every handler: JSON responses, the auth
// cookie contract and the request middleware chain.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"study-planner/backend/internal/ratelimit"
)

// maxBodyBytes caps request bodies decoded by DecodeJSON.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write json response", zap.Error(err))
	}
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// DecodeJSON decodes the request body into dst. Unknown fields are rejected and an empty
// body is an error.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// WriteRateLimitError maps an error from ratelimit.Check to a response. It returns false when
// err is not a limiter error and nothing was written.
// A LimitedError becomes 429 with Retry-After; ErrUnavailable becomes 503.
func WriteRateLimitError(w http.ResponseWriter, err error) bool {
	var limited *ratelimit.LimitedError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
		WriteError(w, http.StatusTooManyRequests, "too_many_requests")
		return true
	case errors.Is(err, ratelimit.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "service_unavailable")
		return true
	}
	return false
}
