package commands

import (
	"errors"
	"fmt"

	"github.com/filegrind/pubchannel-go/bifaci"
	"github.com/filegrind/pubchannel-go/session"
)

// Wire error codes. Reading and FormatNotSupported keep the numeric codes
// hosts already switch on.
const (
	CodeReading            = "0"
	CodeFormatNotSupported = "1"
	CodeInvalidArgument    = "InvalidArgument"
	CodeLookupFailure      = "LookupFailure"
	CodeNoActiveDocument   = "NoActiveDocument"
)

var kindCodes = map[session.Kind]string{
	session.KindReading:            CodeReading,
	session.KindFormatNotSupported: CodeFormatNotSupported,
	session.KindInvalidArgument:    CodeInvalidArgument,
	session.KindLookup:             CodeLookupFailure,
	session.KindNoActiveDocument:   CodeNoActiveDocument,
}

// WireError converts a command failure to the error carried in the ERR frame.
func WireError(err error) *bifaci.CallError {
	var callErr *bifaci.CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	var sessErr *session.Error
	if errors.As(err, &sessErr) {
		code, ok := kindCodes[sessErr.Kind]
		if !ok {
			code = bifaci.CodeInternalError
		}
		out := &bifaci.CallError{Code: code, Message: fmt.Sprintf("%s: %s", sessErr.Op, sessErr.Message)}
		if sessErr.Err != nil {
			out.Details = sessErr.Err.Error()
		}
		return out
	}
	return &bifaci.CallError{Code: bifaci.CodeInternalError, Message: err.Error()}
}
