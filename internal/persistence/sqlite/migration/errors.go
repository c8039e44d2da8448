package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMigrationFile indicates a file does not follow the naming convention or is empty.
	ErrInvalidMigrationFile = errors.New("migration: invalid migration file")
	// ErrDuplicateVersion indicates two files share a version.
	ErrDuplicateVersion = errors.New("migration: duplicate version")
	// ErrChecksumMismatch indicates an applied migration was edited afterwards.
	ErrChecksumMismatch = errors.New("migration: checksum mismatch")
	// ErrMigrationFailed indicates a migration could not be applied.
	ErrMigrationFailed = errors.New("migration: execution failed")
)

// Error wraps a failure with the migration and operation it occurred in.
type Error struct {
	Version   int
	Name      string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("migration %03d (%s): %s: %v", e.Version, e.Name, e.Operation, e.Err)
	}
	return fmt.Sprintf("migration: %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(m Migration, operation string, err error) error {
	return &Error{Version: m.Version, Name: m.Name, Operation: operation, Err: err}
}
