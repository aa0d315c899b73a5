// Package apperr holds the sentinel errors shared across Folio packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidPath   = errors.New("invalid path")
	ErrCorrupt       = errors.New("workspace metadata is corrupt")
	ErrClosed        = errors.New("workspace is closed")
)
