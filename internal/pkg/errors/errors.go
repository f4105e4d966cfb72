package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal")

	// Pipeline failure classes. Services wrap the underlying cause with %w so
	// handlers can classify without losing detail.
	ErrIngestion = errors.New("ingestion failed")
	ErrStorage   = errors.New("storage failed")
	ErrAnalysis  = errors.New("analysis failed")

	ErrNoProcessableFiles = errors.New("no processable files found")
	ErrTreeTooLarge       = errors.New("source tree too large")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsIngestion(err error) bool {
	return errors.Is(err, ErrIngestion)
}
