package session

import (
	"errors"
	"fmt"

	"github.com/filegrind/pubchannel-go/publication"
)

// Kind is the closed set of failures a session operation reports.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindFormatNotSupported
	KindReading
	KindLookup
	KindNoActiveDocument
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindFormatNotSupported:
		return "FormatNotSupported"
	case KindReading:
		return "Reading"
	case KindLookup:
		return "LookupFailure"
	case KindNoActiveDocument:
		return "NoActiveDocument"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the tagged failure of a session or reader operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around a cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the kind of err, if it is or wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// openFailure maps toolkit retrieval and opening errors onto session kinds.
func openFailure(op string, err error) *Error {
	kind := KindReading
	if publication.KindOf(err) == publication.ErrorFormatNotSupported {
		kind = KindFormatNotSupported
	}
	return Wrap(kind, op, "cannot open publication", err)
}
