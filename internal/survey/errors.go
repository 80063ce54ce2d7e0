package survey

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned when enrolling an identifier that already
	// has an active conversation.
	ErrAlreadyActive = errors.New("survey: conversation already active")
	// ErrUnknownConversation is returned for inbound messages from identifiers
	// with no active conversation.
	ErrUnknownConversation = errors.New("survey: unknown conversation")
	// ErrInvalidAnswer is wrapped by every ValidationError.
	ErrInvalidAnswer = errors.New("survey: invalid answer")
)

// ValidationError describes an answer that is not an integer or falls outside
// the active question's range.
type ValidationError struct {
	Input string
	Range Range
	// NotANumber is set when Input does not parse as an integer.
	NotANumber bool
}

func (e *ValidationError) Error() string {
	if e.NotANumber {
		return fmt.Sprintf("survey: answer %q is not a number (expected %s)", e.Input, e.Range)
	}
	return fmt.Sprintf("survey: answer %q outside range %s", e.Input, e.Range)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAnswer }

// SendError is a transport failure that survived all retries.
type SendError struct {
	ChatID string
	Kind   string // "text" or "media"
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("survey: send %s to %s: %v", e.Kind, e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func isSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}
