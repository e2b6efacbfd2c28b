// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package web is a collection of functions and types for building web services.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.astrophena.name/cardserve/internal/cli"
)

// StatusErr is a sentinel error type used to represent HTTP status code errors.
type StatusErr int

// Error implements the error interface.
// It returns a lowercase representation of the HTTP status text for the wrapped code.
func (se StatusErr) Error() string { return strings.ToLower(http.StatusText(int(se))) }

const (
	// ErrNotFound represents a not found error (HTTP 404).
	ErrNotFound StatusErr = http.StatusNotFound
	// ErrInternalServerError represents an internal server error (HTTP 500).
	ErrInternalServerError StatusErr = http.StatusInternalServerError
)

// Errorf returns an error that reports the formatted message as its text and
// unwraps to se, so [RespondError] replies with the message and the status
// code of se. The %w verb is supported in format.
func Errorf(se StatusErr, format string, args ...any) error {
	return &statusError{se: se, err: fmt.Errorf(format, args...)}
}

type statusError struct {
	se  StatusErr
	err error
}

func (e *statusError) Error() string   { return e.err.Error() }
func (e *statusError) Unwrap() []error { return []error{e.se, e.err} }

// RespondJSON writes v to w as indented JSON. If v can't be marshaled, it
// replies with an internal server error instead.
func RespondJSON(w http.ResponseWriter, r *http.Request, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		RespondError(w, r, fmt.Errorf("marshaling JSON: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(append(b, '\n'))
}

// RespondError writes an error response in plain text to w. The response body
// is the error message. Internal server errors are logged using [cli.Env.Logf]
// of the request context's environment.
//
// If the error is a [StatusErr] or wraps it, it extracts the HTTP status code and
// sets the response status code accordingly. Otherwise, it sets the response
// status code to [http.StatusInternalServerError].
//
// Use [Errorf] to reply with a specific message and status code:
//
//	// This will reply with 404 (Not Found) and "Image not found: logo.png".
//	web.RespondError(w, r, web.Errorf(web.ErrNotFound, "Image not found: %s", "logo.png"))
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	var se StatusErr
	if !errors.As(err, &se) {
		se = ErrInternalServerError
	}
	if se == ErrInternalServerError {
		cli.GetEnv(r.Context()).Logf("Error %d (%s) on %s %s: %v", se, http.StatusText(int(se)), r.Method, r.URL.Path, err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Del("Content-Length")
	w.WriteHeader(int(se))
	fmt.Fprint(w, err.Error())
}
