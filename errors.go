package main

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Code tags a store or domain error so that handlers can map it to a response.
type Code string

const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeInvalidOwner  Code = "INVALID_OWNER"
)

// codedError is a sentinel carrying a Code.
type codedError struct {
	code Code
	msg  string
}

func (e *codedError) Error() string { return e.msg }

var (
	ErrNotFound      error = &codedError{code: CodeNotFound, msg: "not found"}
	ErrAlreadyExists error = &codedError{code: CodeAlreadyExists, msg: "already exists"}
	ErrInvalidOwner  error = &codedError{code: CodeInvalidOwner, msg: "credential must have exactly one owner"}
)

// codeOf returns the Code of the first tagged error in err's chain, or "".
func codeOf(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ""
}

// Failure is a terminal HTTP outcome. Err keeps the cause for logging and is
// never sent to the client.
type Failure struct {
	Status  int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%d %s: %v", f.Status, f.Message, f.Err)
	}
	return fmt.Sprintf("%d %s", f.Status, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(status int, message string) *Failure {
	return &Failure{Status: status, Message: message}
}

// Failures produced by the authentication chain.
var (
	errInvalidAuthHeader          = fail(http.StatusBadRequest, "Invalid authorization header")
	errInvalidOrUnknownAuthMethod = fail(http.StatusBadRequest, "Invalid or unknown authorization method")
	errNoClientCredGiven          = fail(http.StatusBadRequest, "No client credentials given")
	errInvalidToken               = fail(http.StatusUnauthorized, "Invalid token")
	errExpiredToken               = fail(http.StatusUnauthorized, "Expired token")
	errInvalidCred                = fail(http.StatusUnauthorized, "Invalid client credentials")
	errInternal                   = fail(http.StatusInternalServerError, "Internal error")
)

func errNotAffiliated(k Kind) *Failure {
	return fail(http.StatusBadRequest, fmt.Sprintf("Token not affiliated to a %s", k))
}

// ErrorTable overrides the response for specific codes.
type ErrorTable map[Code]*Failure

// resolveError maps err to a Failure. A Failure in the chain wins; then the
// caller's table, then fallback, then the global internal error.
func resolveError(err error, table ErrorTable, fallback *Failure) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if m, ok := table[codeOf(err)]; ok && m != nil {
		return &Failure{Status: m.Status, Message: m.Message, Err: err}
	}
	if fallback != nil {
		return &Failure{Status: fallback.Status, Message: fallback.Message, Err: err}
	}
	return &Failure{Status: errInternal.Status, Message: errInternal.Message, Err: err}
}

// APIError is the uniform failure body.
type APIError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// writeFailure writes the failure envelope. Server errors are logged with
// their cause; client errors are only counted.
func (a *App) writeFailure(w http.ResponseWriter, r *http.Request, f *Failure) {
	if f.Status >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", f.Status),
			zap.Error(f.Err),
		)
	}
	if a.metrics != nil {
		a.metrics.failures.WithLabelValues(fmt.Sprint(f.Status), f.Message).Inc()
	}
	writeJSON(w, f.Status, APIError{Source: r.URL.Path, Message: f.Message})
}

// writeError resolves err and writes it.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error, table ErrorTable, fallback *Failure) {
	a.writeFailure(w, r, resolveError(err, table, fallback))
}
