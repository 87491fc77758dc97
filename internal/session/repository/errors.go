package repository

import "fmt"

// DuplicateError is returned by the in-memory repository when a unique key is already taken,
// mirroring a unique-constraint violation in Postgres.
type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

func errDuplicate(entity, key string) error {
	return &DuplicateError{Entity: entity, Key: key}
}
