package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"teamsync/internal/auth"
	"teamsync/internal/store"
)

var (
	errForbidden   = errors.New("forbidden")
	errBadInput    = errors.New("bad user input")
	errUnsupported = errors.New("unsupported operation")
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
}

// gqlError is one entry of a GraphQL "errors" list.
type gqlError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
		Code:     codeForStatus(status),
	})
}

// writeError renders a resolver error as a problem with the matching status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	writeProblem(w, status, http.StatusText(status), err.Error(), r.URL.Path)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errBadInput), errors.Is(err, errUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusBadRequest:
		return "BAD_USER_INPUT"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

func toGQLErrors(err error) []gqlError {
	code := codeForStatus(statusFor(err))
	msg := err.Error()
	if code == "INTERNAL_SERVER_ERROR" {
		msg = "internal error"
	}
	return []gqlError{{Message: msg, Extensions: map[string]any{"code": code}}}
}
