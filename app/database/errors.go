package database

import "fmt"

// StorageError wraps durable-store failures so callers can treat them as
// fatal to the current source step without aborting the whole run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
