package publication

import (
	"errors"
	"fmt"
)

// ErrorKind classifies asset retrieval and opening failures. The numeric values
// are shared with the host and must keep this order.
type ErrorKind int

const (
	ErrorReading            ErrorKind = 0
	ErrorFormatNotSupported ErrorKind = 1
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorReading:
		return "Reading"
	case ErrorFormatNotSupported:
		return "FormatNotSupported"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// OpenError is returned by AssetRetriever.Retrieve and Opener.Open.
type OpenError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *OpenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// NewReadingError wraps an I/O failure while retrieving or opening an asset.
func NewReadingError(message string, err error) *OpenError {
	return &OpenError{Kind: ErrorReading, Message: message, Err: err}
}

// NewFormatNotSupportedError reports an asset no format handler accepts.
func NewFormatNotSupportedError(message string, err error) *OpenError {
	return &OpenError{Kind: ErrorFormatNotSupported, Message: message, Err: err}
}

// KindOf returns the kind of err, defaulting to ErrorReading.
func KindOf(err error) ErrorKind {
	var openErr *OpenError
	if errors.As(err, &openErr) {
		return openErr.Kind
	}
	return ErrorReading
}

// Sentinel errors shared by toolkit implementations
var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrClosed           = errors.New("publication is closed")
)
