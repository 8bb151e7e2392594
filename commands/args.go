package commands

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/filegrind/pubchannel-go/bifaci"
	"github.com/filegrind/pubchannel-go/session"
)

// args are positional call arguments sent as a CBOR array. Trailing optional
// arguments may be omitted or null.
type args struct {
	method string
	values []cbor.RawMessage
}

func decodeArgs(call *bifaci.Call, required int) (args, error) {
	a := args{method: call.Method}
	if err := call.Decode(&a.values); err != nil {
		return a, session.Wrap(session.KindInvalidArgument, call.Method, "arguments must be an array", err)
	}
	if len(a.values) < required {
		return a, session.Errorf(session.KindInvalidArgument, call.Method, "expected at least %d arguments, got %d", required, len(a.values))
	}
	return a, nil
}

func (a args) decode(i int, v interface{}) error {
	if i >= len(a.values) {
		return nil
	}
	if err := bifaci.DecodeValue(a.values[i], v); err != nil {
		return session.Wrap(session.KindInvalidArgument, a.method, fmt.Sprintf("invalid argument %d", i), err)
	}
	return nil
}

func (a args) string(i int) (string, error) {
	var s *string
	if err := a.decode(i, &s); err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

func (a args) bool(i int) (bool, error) {
	var b *bool
	if err := a.decode(i, &b); err != nil || b == nil {
		return false, err
	}
	return *b, nil
}

func (a args) stringMap(i int) (map[string]string, error) {
	var m map[string]string
	if err := a.decode(i, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeSingle decodes a call whose arguments are one bare value.
func decodeSingle(call *bifaci.Call, v interface{}) error {
	if err := call.Decode(v); err != nil {
		return session.Wrap(session.KindInvalidArgument, call.Method, "invalid argument", err)
	}
	return nil
}
