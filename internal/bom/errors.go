package bom

import "errors"

var (
	// ErrReferenceNotFound indicates a variant or item id no longer resolves.
	ErrReferenceNotFound = errors.New("bom: reference not found")
	// ErrConflict indicates a main entry for the floorplan/variant already exists.
	ErrConflict = errors.New("bom: conflicting main entry")
	// ErrUpstreamUnavailable wraps catalog or store I/O failures.
	ErrUpstreamUnavailable = errors.New("bom: upstream unavailable")
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("bom: entry not found")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("bom: validation failed")
)
