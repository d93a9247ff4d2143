package improve

import (
	"errors"
	"fmt"

	"github.com/promptops/whetstone/internal/store"
)

// Kind classifies a lifecycle failure. Every error crossing the orchestrator
// boundary carries one of these; nothing is returned unlabelled.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindInvalidState        Kind = "InvalidState"
	KindMalformedGeneration Kind = "MalformedGeneration"
	KindUpstreamError       Kind = "UpstreamError"
	KindPersistenceError    Kind = "PersistenceError"
	KindInvalidRequest      Kind = "InvalidRequest"
	KindNoPreviousVersion   Kind = "NoPreviousVersion"
)

// Error is a typed lifecycle failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the failure kind, defaulting to PersistenceError for
// untyped errors bubbling out of the store.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindPersistenceError
}

// StoreError maps store sentinels onto the taxonomy for callers outside the
// lifecycle core (the HTTP layer talks to the store directly for registry ops).
func StoreError(err error, context string) *Error {
	return storeError(err, context)
}

// storeError maps store sentinels onto the taxonomy.
func storeError(err error, context string) *Error {
	switch {
	case errors.Is(err, store.ErrSkillNotFound):
		return wrapError(KindNotFound, err, "skill not found")
	case errors.Is(err, store.ErrSkillExists):
		return wrapError(KindInvalidState, err, "a skill with this id already exists")
	case errors.Is(err, store.ErrRequestNotFound):
		return wrapError(KindNotFound, err, "improvement request not found")
	case errors.Is(err, store.ErrStaleStatus):
		return wrapError(KindInvalidState, err, "request status changed")
	case errors.Is(err, store.ErrImprovementPending):
		return wrapError(KindInvalidState, err, "an improvement request is already open for this skill")
	case errors.Is(err, store.ErrNoPreviousVersion):
		return wrapError(KindNoPreviousVersion, err, "no previous version available")
	default:
		return wrapError(KindPersistenceError, err, "%s", context)
	}
}
