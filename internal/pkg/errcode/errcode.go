package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrInternal
	ErrTooMany
	ErrInvalidFile
	ErrIngestionFailed
	ErrNoProcessableFiles
	ErrTreeTooLarge
	ErrStorageFailed
	ErrAnalysisFailed
	ErrAIUnavailable
)
