package store

import "errors"

var (
	// ErrNotFound means the entity id does not exist or is tombstoned where
	// a live row was required.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict means the stored version did not match the caller's
	// expected version. The stored row is left untouched.
	ErrConflict = errors.New("version conflict")

	// ErrValidation means the payload was malformed (unknown entity type,
	// unknown column, or missing required fields) and storage was not touched.
	ErrValidation = errors.New("invalid entity payload")
)
