package indfile

import (
	"errors"
	"fmt"
)

// Kind classifies why a create or view call failed.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	SeedUnavailable
	InvalidSeed
	StorageFailure
	NotFound
	IntegrityError
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case SeedUnavailable:
		return "SeedUnavailable"
	case InvalidSeed:
		return "InvalidSeed"
	case StorageFailure:
		return "StorageFailure"
	case NotFound:
		return "NotFound"
	case IntegrityError:
		return "IntegrityError"
	default:
		return "Internal"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrInternal        = errors.New("internal error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSeedUnavailable = errors.New("seed unavailable")
	ErrInvalidSeed     = errors.New("invalid seed")
	ErrStorageFailure  = errors.New("storage failure")
	ErrNotFound        = errors.New("not found")
	ErrIntegrity       = errors.New("integrity check failed")
)

var sentinels = map[Kind]error{
	Internal:        ErrInternal,
	InvalidInput:    ErrInvalidInput,
	SeedUnavailable: ErrSeedUnavailable,
	InvalidSeed:     ErrInvalidSeed,
	StorageFailure:  ErrStorageFailure,
	NotFound:        ErrNotFound,
	IntegrityError:  ErrIntegrity,
}

// Error is returned by every Files operation.
type Error struct {
	Kind Kind
	Op   string // Step that failed, e.g. "seed" or "decrypt"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Retryable reports whether the same call may succeed later without any
// change by the caller.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == SeedUnavailable
}
