package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrConflict is returned when a unique key is already taken.
type ErrConflict struct {
	Entity EntityType
	Key    string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

// ErrInvalidTransition is returned when the current state of a record forbids
// the requested change.
type ErrInvalidTransition struct {
	Entity EntityType
	ID     string
	From   string
	To     string
	Reason string
}

func (e ErrInvalidTransition) Error() string {
	msg := fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ErrPersistence wraps a failure of the durable backend. The enclosing
// transaction is aborted as a whole when it is returned.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e ErrPersistence) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e ErrPersistence) Unwrap() error { return e.Err }

// ErrInvalidStatus is returned when an inbound status string is not part of
// the closed enum for its field.
type ErrInvalidStatus struct {
	Field string
	Value string
}

func (e ErrInvalidStatus) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// ErrInvalidInput is returned when a caller supplied field fails validation.
type ErrInvalidInput struct {
	Entity EntityType
	Field  string
	Reason string
}

func (e ErrInvalidInput) Error() string {
	return fmt.Sprintf("%s %s %s", e.Entity, e.Field, e.Reason)
}

// IsNotFound reports whether err carries an ErrNotFound.
func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}

// IsConflict reports whether err carries an ErrConflict.
func IsConflict(err error) bool {
	var target ErrConflict
	return errors.As(err, &target)
}

// IsInvalidTransition reports whether err carries an ErrInvalidTransition.
func IsInvalidTransition(err error) bool {
	var target ErrInvalidTransition
	return errors.As(err, &target)
}

// IsPersistence reports whether err carries an ErrPersistence.
func IsPersistence(err error) bool {
	var target ErrPersistence
	return errors.As(err, &target)
}

// IsInvalidStatus reports whether err carries an ErrInvalidStatus.
func IsInvalidStatus(err error) bool {
	var target ErrInvalidStatus
	return errors.As(err, &target)
}

// IsRuleViolation reports whether err carries a RuleViolationError.
func IsRuleViolation(err error) bool {
	var target RuleViolationError
	return errors.As(err, &target)
}

// IsInvalidInput reports whether err carries an ErrInvalidInput.
func IsInvalidInput(err error) bool {
	var target ErrInvalidInput
	return errors.As(err, &target)
}
