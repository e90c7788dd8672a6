package shared

import "errors"

var (
	// ErrNotFound indicates a referenced user, role or permission does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate assignment or association.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input, e.g. a bad permission identifier.
	ErrValidation = errors.New("validation failed")
	// ErrDataAccess indicates a storage or cache collaborator failure.
	ErrDataAccess = errors.New("data access failure")
)
