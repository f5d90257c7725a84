package companion

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────
// Error taxonomy
// ──────────────────────────────────────────────
//
// ValidationError: bad input, rejected before orchestration starts.
// ConfigError:     a malformed catalog entry; the entry is skipped at load.
// CommitError:     the atomic session commit failed; the turn is discarded
//                  and the caller may retry against unchanged state.
//
// Evaluator failures inside a turn never surface as errors: they are
// absorbed into TurnResult warnings.

// ValidationError reports a rejected input.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConfigError reports a malformed persona profile or fragment definition.
type ConfigError struct {
	Kind   string `json:"kind"` // "persona" | "fragment"
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %q: %s", e.Kind, e.ID, e.Reason)
}

// CommitError reports a failed atomic session-state swap.
type CommitError struct {
	SessionID string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit session %s: %v", e.SessionID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// ErrUnknownPersona is returned for a switch request to an undeclared persona.
var ErrUnknownPersona = errors.New("unknown persona")

// ErrSessionNotFound is returned by read-only operations on an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// ErrUnknownFragment is returned for a hint request on an undeclared fragment.
var ErrUnknownFragment = errors.New("unknown fragment")

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCommit reports whether err is a CommitError.
func IsCommit(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}
