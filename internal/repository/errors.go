package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateName indicates a record with the same name already exists.
	ErrDuplicateName = errors.New("repository: duplicate name")
)
