// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Mapping binds a domain error to an HTTP status and problem title.
type Mapping struct {
	Target error
	Status int
	Title  string
}

var defaultMappings = []Mapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrForbidden, Status: http.StatusForbidden, Title: "Forbidden"},
	{Target: ErrUnauthorized, Status: http.StatusUnauthorized, Title: "Unauthorized"},
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Extra mappings are checked before the package defaults.
func RespondError(w http.ResponseWriter, err error, extra ...Mapping) {
	RespondErrorWith(w, err, nil, extra...)
}

// RespondErrorWith is RespondError with RFC7807 extension members added to
// the problem body.
func RespondErrorWith(w http.ResponseWriter, err error, members map[string]any, extra ...Mapping) {
	m, ok := match(err, extra)
	if !ok {
		ProblemWith(w, http.StatusInternalServerError, "Internal Error", "", members)
		return
	}
	ProblemWith(w, m.Status, m.Title, err.Error(), members)
}

func match(err error, extra []Mapping) (Mapping, bool) {
	for _, m := range extra {
		if errors.Is(err, m.Target) {
			return m, true
		}
	}
	for _, m := range defaultMappings {
		if errors.Is(err, m.Target) {
			return m, true
		}
	}
	return Mapping{}, false
}
