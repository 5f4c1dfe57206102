package errx

import (
	"errors"
	"fmt"
)

// Kind classifies where in the pipeline an error originated.
type Kind string

const (
	KindRetrieval Kind = "retrieval"
	KindGateway   Kind = "gateway"
	KindSchema    Kind = "schema"
	KindSearch    Kind = "search"
	KindArtifact  Kind = "artifact"
	KindStorage   Kind = "storage"
	KindConfig    Kind = "config"
	KindInternal  Kind = "internal"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// RetrievalErrorMessage is returned when the vector index cannot be queried.
	RetrievalErrorMessage = "document retrieval failed"
)

// ErrNotFound marks lookups that found nothing. Stores wrap it so callers can
// branch with errors.Is.
var ErrNotFound = errors.New("not found")

// Error wraps an underlying error with a kind, the failing operation and a safe message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the provided information.
func New(kind Kind, op string, err error, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Retrieval wraps a vector index failure. Retrieval errors abort a run.
func Retrieval(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindRetrieval, op, err, RetrievalErrorMessage)
}

// NotFound builds a KindArtifact/KindStorage error that matches ErrNotFound.
func NotFound(kind Kind, op, what string) error {
	return New(kind, op, ErrNotFound, what+" not found")
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
