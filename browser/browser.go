// Package browser maps typed browser commands onto protocol calls.
//
// Each command knows its method name, how to build its parameters and how to
// decode its result; none of them perform I/O. Do submits a command through a
// Caller, normally an *engine.Engine. Command is sealed: only the commands in
// this package implement it, so an unknown command is a compile error rather
// than a runtime lookup failure.
package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/browser-bridge-go/engine"
)

// Caller submits a call and waits for its raw result.
type Caller interface {
	Call(ctx context.Context, method string, params any, opts ...engine.CallOption) (json.RawMessage, error)
}

// Command is one browser operation producing an R.
type Command[R any] interface {
	// Method is the protocol method the command calls.
	Method() string
	// Params returns the call parameters, or nil for none.
	Params() any
	// Decode turns the raw result into R.
	Decode(raw json.RawMessage) (R, error)

	sealed()
}

// DecodeError reports a result whose shape did not match the command.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s result: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Do runs cmd through c.
func Do[R any](ctx context.Context, c Caller, cmd Command[R], opts ...engine.CallOption) (R, error) {
	var zero R
	raw, err := c.Call(ctx, cmd.Method(), cmd.Params(), opts...)
	if err != nil {
		return zero, err
	}
	out, err := cmd.Decode(raw)
	if err != nil {
		return zero, &DecodeError{Method: cmd.Method(), Err: err}
	}
	return out, nil
}

// decodeInto unmarshals raw into a fresh T. A missing result is treated as an
// empty object.
func decodeInto[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
