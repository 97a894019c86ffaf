package usage

import "fmt"

// StorageError is returned when a storage backend operation fails.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("usage storage error (%s/%s): %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// ExportError is returned when exporting or importing events fails.
type ExportError struct {
	Format string
	Row    int
	Cause  error
}

func (e *ExportError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("usage %s error at row %d: %v", e.Format, e.Row, e.Cause)
	}
	return fmt.Sprintf("usage %s error: %v", e.Format, e.Cause)
}

func (e *ExportError) Unwrap() error {
	return e.Cause
}
