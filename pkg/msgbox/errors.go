package msgbox

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a (messageBoxID, created) pair resolves to
// no existing message.
var ErrNotFound = errors.New("message not found")

// ErrReplyTargetNotFound is returned when a reply names a parent timestamp
// with no message behind it. It wraps ErrNotFound.
var ErrReplyTargetNotFound = fmt.Errorf("reply target: %w", ErrNotFound)

// ValidationError reports malformed client input. It is surfaced before
// any mutation is performed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
