// Package wire encodes and decodes browser-control protocol frames.
//
// The protocol is JSON-RPC shaped but not JSON-RPC 2.0: there is no "jsonrpc"
// member, ids are integers, and the peer never sends requests. Outbound frames
// are calls:
//
//	{"id": 7, "method": "Page.navigate", "params": {...}, "sessionId": "..."}
//
// Inbound frames are either replies carrying the originating id
//
//	{"id": 7, "result": {...}}
//	{"id": 7, "error": {"code": -32000, "message": "..."}}
//
// or notifications carrying a method and no id
//
//	{"method": "Page.loadEventFired", "params": {...}}
//
// Decode never fails. Input that fits neither shape becomes a Malformed frame so
// that a single bad message cannot take the connection down.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the variants of an inbound Frame.
type Kind int

const (
	// KindMalformed marks input that could not be classified.
	KindMalformed Kind = iota
	// KindReply marks a reply to a previously sent call.
	KindReply
	// KindNotification marks an unsolicited event.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindNotification:
		return "notification"
	default:
		return "malformed"
	}
}

// Error is the error object carried by a failed reply.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Reply is the payload of a KindReply frame. Exactly one of Result and Error is
// meaningful: Error is non-nil for failed calls.
type Reply struct {
	ID        int64
	Result    json.RawMessage
	Error     *Error
	SessionID string
}

// Notification is the payload of a KindNotification frame.
type Notification struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Clone returns a copy that shares no memory with n.
func (n Notification) Clone() Notification {
	out := n
	if n.Params != nil {
		out.Params = bytes.Clone(n.Params)
	}
	return out
}

// Frame is a decoded inbound message. Only the field matching Kind is set.
type Frame struct {
	Kind         Kind
	Reply        Reply
	Notification Notification
	// Err describes why the frame is malformed.
	Err error
}

// Request is an outbound call as it appears on the wire.
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

var (
	// ErrMalformed is wrapped by every Frame.Err.
	ErrMalformed = errors.New("malformed frame")
	// ErrEmptyMethod is returned by Encode when no method is given.
	ErrEmptyMethod = errors.New("method is required")
)

// EncodeOption customizes an encoded call.
type EncodeOption func(*Request)

// WithSessionID attaches a target session id to the call.
func WithSessionID(sessionID string) EncodeOption {
	return func(r *Request) { r.SessionID = sessionID }
}

// Encode produces the wire form of a call. It is pure: params is marshalled
// once and the id is written exactly as given.
func Encode(method string, params any, id int64, opts ...EncodeOption) ([]byte, error) {
	if method == "" {
		return nil, ErrEmptyMethod
	}
	req := Request{ID: id, Method: method}
	for _, opt := range opts {
		opt(&req)
	}
	raw, err := MarshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	req.Params = raw
	return json.Marshal(req)
}

// DecodeRequest parses an outbound call. It is the inverse of Encode and is
// used by peers that play the browser side.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	var head struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return req, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if head.ID == nil || head.Method == "" {
		return req, fmt.Errorf("%w: request requires id and method", ErrMalformed)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return req, nil
}

// EncodeReply produces a successful reply frame.
func EncodeReply(id int64, result any) ([]byte, error) {
	raw, err := MarshalPayload(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	return json.Marshal(struct {
		ID     int64           `json:"id"`
		Result json.RawMessage `json:"result"`
	}{ID: id, Result: raw})
}

// EncodeErrorReply produces a failed reply frame.
func EncodeErrorReply(id int64, e Error) ([]byte, error) {
	return json.Marshal(struct {
		ID    int64 `json:"id"`
		Error Error `json:"error"`
	}{ID: id, Error: e})
}

// EncodeNotification produces an unsolicited event frame.
func EncodeNotification(method string, params any) ([]byte, error) {
	if method == "" {
		return nil, ErrEmptyMethod
	}
	raw, err := MarshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return json.Marshal(Notification{Method: method, Params: raw})
}

// inbound captures every member an inbound frame may carry. Pointers and raw
// messages let Decode tell "absent" apart from "null".
type inbound struct {
	ID        json.RawMessage `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *Error          `json:"error"`
	SessionID string          `json:"sessionId"`
}

// Decode classifies an inbound message. It never returns an error; input that
// is not a reply or a notification yields a KindMalformed frame.
func Decode(data []byte) Frame {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return malformed("invalid JSON: %v", err)
	}

	hasID := len(in.ID) > 0 && !bytes.Equal(in.ID, []byte("null"))
	hasResult := len(in.Result) > 0
	hasError := in.Error != nil

	switch {
	case hasID && in.Method != "":
		return malformed("unexpected request frame for %q", in.Method)
	case hasID:
		var id int64
		if err := json.Unmarshal(in.ID, &id); err != nil {
			return malformed("id must be an integer, got %s", string(in.ID))
		}
		if hasResult && hasError {
			return malformed("reply %d carries both result and error", id)
		}
		r := Reply{ID: id, SessionID: in.SessionID}
		if hasError {
			r.Error = in.Error
		} else {
			r.Result = in.Result
		}
		return Frame{Kind: KindReply, Reply: r}
	case in.Method != "":
		if hasResult || hasError {
			return malformed("notification %q carries a result or error", in.Method)
		}
		return Frame{Kind: KindNotification, Notification: Notification{
			Method:    in.Method,
			Params:    in.Params,
			SessionID: in.SessionID,
		}}
	default:
		return malformed("frame has neither id nor method")
	}
}

func malformed(format string, a ...any) Frame {
	return Frame{Kind: KindMalformed, Err: fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, a...))}
}

// MarshalPayload renders v as a raw JSON payload. nil, an empty
// json.RawMessage, and values that marshal to null all yield a nil payload,
// which Encode omits from the frame.
func MarshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		return p, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	return b, nil
}
