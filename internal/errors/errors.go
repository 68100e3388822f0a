// Package errors defines the engine's error kinds and the structured error
// returned by every tournament operation
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is a machine-readable error kind
type Kind string

const (
	KindUnknown Kind = "UNKNOWN"

	// Tournament lifecycle
	KindNotInitialized Kind = "NOT_INITIALIZED"
	KindAlreadyExists  Kind = "ALREADY_EXISTS"

	// Roster
	KindAlreadyRegistered   Kind = "ALREADY_REGISTERED"
	KindNotRegistered       Kind = "NOT_REGISTERED"
	KindOpenChallengeExists Kind = "OPEN_CHALLENGE_EXISTS"
	KindOutOfRange          Kind = "OUT_OF_RANGE"

	// Challenges
	KindSelfChallenge      Kind = "SELF_CHALLENGE"
	KindDuplicateChallenge Kind = "DUPLICATE_CHALLENGE"
	KindTimeout            Kind = "TIMEOUT"
	KindNoOpenChallenge    Kind = "NO_OPEN_CHALLENGE"
	KindResultConflict     Kind = "RESULT_CONFLICT"
	KindInvalidOutcome     Kind = "INVALID_OUTCOME"
	KindNotEligible        Kind = "NOT_ELIGIBLE"

	// Settings
	KindUnknownKey   Kind = "UNKNOWN_KEY"
	KindInvalidValue Kind = "INVALID_VALUE"

	// Callers
	KindForbidden      Kind = "FORBIDDEN"
	KindUnknownCommand Kind = "UNKNOWN_COMMAND"

	// Storage
	KindPersistenceUnavailable Kind = "PERSISTENCE_UNAVAILABLE"
)

// Error is a domain error scoped to a single operation
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// With returns a copy of e carrying one more metadata entry
func (e *Error) With(key, value string) *Error {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	out := *e
	out.Metadata = md
	return &out
}

// Unavailable wraps a storage failure
func Unavailable(err error, op string) *Error {
	return Wrap(KindPersistenceUnavailable, err, "%s failed", op)
}

// KindOf extracts the kind from any error. Errors that are not domain errors
// report KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing part of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "an unexpected error occurred"
}

// GRPCCode maps kinds to gRPC status codes
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindSelfChallenge,
		KindInvalidOutcome,
		KindOutOfRange,
		KindUnknownKey,
		KindInvalidValue,
		KindUnknownCommand:
		return codes.InvalidArgument

	case KindAlreadyExists,
		KindAlreadyRegistered,
		KindDuplicateChallenge:
		return codes.AlreadyExists

	case KindNotInitialized,
		KindNotRegistered,
		KindNoOpenChallenge:
		return codes.NotFound

	case KindTimeout,
		KindOpenChallengeExists,
		KindNotEligible:
		return codes.FailedPrecondition

	case KindResultConflict:
		return codes.Aborted

	case KindForbidden:
		return codes.PermissionDenied

	case KindPersistenceUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// HTTPStatus maps kinds to HTTP status codes
func (k Kind) HTTPStatus() int {
	switch k.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus converts err into a gRPC status error
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return status.Error(e.Kind.GRPCCode(), fmt.Sprintf("%s: %s", e.Kind, e.Message))
	}
	return status.Error(codes.Internal, "an unexpected error occurred")
}
