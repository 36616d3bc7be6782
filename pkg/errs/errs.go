// Package errs holds the error kinds shared by the recognizer and its
// storage pipeline. Errors are wrapped with fmt.Errorf("%w") so callers
// can classify them with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is returned for stored or in-memory state that cannot be trusted.
	// Training on corrupt state is never attempted.
	ErrCorrupt = errors.New("corrupt data")

	// ErrNotFound is returned for a missing blob, template id or label.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for bad caller input, such as an unknown image type.
	ErrValidation = errors.New("invalid input")

	// ErrTransient marks an executor failure that is worth retrying.
	ErrTransient = errors.New("transient failure")

	// ErrBusy is returned when a round is started while another is still running.
	ErrBusy = errors.New("busy")
)

func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrNotFound, fmt.Sprintf(format, args...))
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrValidation, fmt.Sprintf(format, args...))
}

func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrTransient, fmt.Sprintf(format, args...))
}
