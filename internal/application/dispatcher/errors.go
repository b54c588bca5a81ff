package dispatcher

import (
	"errors"
	"fmt"
)

// TransientHandlerError marks a failure worth retrying, such as a timeout or
// an unavailable downstream. Unclassified handler errors are treated the
// same way.
type TransientHandlerError struct {
	Err error
}

func (e *TransientHandlerError) Error() string {
	return fmt.Sprintf("transient handler error: %v", e.Err)
}

func (e *TransientHandlerError) Unwrap() error {
	return e.Err
}

// PermanentHandlerError marks a failure that will not succeed on retry,
// such as a malformed payload. The record is dead-lettered immediately.
type PermanentHandlerError struct {
	Err error
}

func (e *PermanentHandlerError) Error() string {
	return fmt.Sprintf("permanent handler error: %v", e.Err)
}

func (e *PermanentHandlerError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientHandlerError
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientHandlerError{Err: err}
}

// Permanent wraps err as a PermanentHandlerError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentHandlerError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent
func IsPermanent(err error) bool {
	var perr *PermanentHandlerError
	return errors.As(err, &perr)
}
