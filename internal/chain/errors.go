package chain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies failures raised while talking to the chain.
type Kind int

const (
	KindUnclassified Kind = iota
	KindConfigurationMissing
	KindInvalidCallArguments
	KindSubmissionRejected
	KindConfirmationTimeout
	KindQueryReverted
	KindRPCUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindConfigurationMissing:
		return "ConfigurationMissing"
	case KindInvalidCallArguments:
		return "InvalidCallArguments"
	case KindSubmissionRejected:
		return "SubmissionRejected"
	case KindConfirmationTimeout:
		return "ConfirmationTimeout"
	case KindQueryReverted:
		return "QueryReverted"
	case KindRPCUnavailable:
		return "RpcUnavailable"
	default:
		return "UnclassifiedHandlerError"
	}
}

// Error is the typed failure returned by the builder and engines.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error of the given kind from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return newError(kind, op, errors.Errorf(format, args...))
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnclassified
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
