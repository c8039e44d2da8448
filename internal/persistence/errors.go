package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record fails a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrFeedClosed is returned by change feed subscriptions after Close or storage shutdown.
	ErrFeedClosed = errors.New("persistence: change feed closed")
	// ErrFeedOverflow is returned when a subscriber fell too far behind and was dropped.
	ErrFeedOverflow = errors.New("persistence: change feed subscriber overflow")
)
