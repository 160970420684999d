package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	params := map[string]any{"url": "https://example.com", "transitionType": "typed"}

	b, err := Encode("Page.navigate", params, 42, WithSessionID("S1"))
	require.NoError(t, err)

	req, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, int64(42), req.ID)
	require.Equal(t, "Page.navigate", req.Method)
	require.Equal(t, "S1", req.SessionID)
	require.JSONEq(t, `{"url":"https://example.com","transitionType":"typed"}`, string(req.Params))
}

func TestEncodeOmitsNilParams(t *testing.T) {
	b, err := Encode("Browser.getVersion", nil, 1)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":1,"method":"Browser.getVersion"}`, string(b))
}

func TestEncodeRequiresMethod(t *testing.T) {
	_, err := Encode("", nil, 1)
	require.ErrorIs(t, err, ErrEmptyMethod)
}

func TestEncodeRejectsUnmarshalableParams(t *testing.T) {
	_, err := Encode("Runtime.evaluate", map[string]any{"fn": func() {}}, 1)
	require.Error(t, err)
}

func TestReplyRoundTrip(t *testing.T) {
	b, err := EncodeReply(9, map[string]any{"frameId": "F", "loaderId": "L"})
	require.NoError(t, err)

	f := Decode(b)
	require.Equal(t, KindReply, f.Kind)
	require.Equal(t, int64(9), f.Reply.ID)
	require.Nil(t, f.Reply.Error)
	require.JSONEq(t, `{"frameId":"F","loaderId":"L"}`, string(f.Reply.Result))
}

func TestEmptyReplyRoundTrip(t *testing.T) {
	b, err := EncodeReply(3, nil)
	require.NoError(t, err)

	f := Decode(b)
	require.Equal(t, KindReply, f.Kind)
	require.Equal(t, int64(3), f.Reply.ID)
	require.JSONEq(t, `{}`, string(f.Reply.Result))
}

func TestErrorReplyRoundTrip(t *testing.T) {
	b, err := EncodeErrorReply(11, Error{Code: -32601, Message: "'Nope.method' wasn't found", Data: json.RawMessage(`"detail"`)})
	require.NoError(t, err)

	f := Decode(b)
	require.Equal(t, KindReply, f.Kind)
	require.Equal(t, int64(11), f.Reply.ID)
	require.NotNil(t, f.Reply.Error)
	require.Equal(t, int64(-32601), f.Reply.Error.Code)
	require.Equal(t, "'Nope.method' wasn't found", f.Reply.Error.Message)
	require.JSONEq(t, `"detail"`, string(f.Reply.Error.Data))
	require.Nil(t, f.Reply.Result)
}

func TestNotificationRoundTrip(t *testing.T) {
	b, err := EncodeNotification("Page.loadEventFired", map[string]any{"timestamp": 12.5})
	require.NoError(t, err)

	f := Decode(b)
	require.Equal(t, KindNotification, f.Kind)
	require.Equal(t, "Page.loadEventFired", f.Notification.Method)
	require.JSONEq(t, `{"timestamp":12.5}`, string(f.Notification.Params))
}

func TestDecodeNotificationWithSession(t *testing.T) {
	f := Decode([]byte(`{"method":"Runtime.consoleAPICalled","params":{"type":"log"},"sessionId":"abc"}`))
	require.Equal(t, KindNotification, f.Kind)
	require.Equal(t, "abc", f.Notification.SessionID)
}

func TestDecodeNullIDIsNotification(t *testing.T) {
	f := Decode([]byte(`{"id":null,"method":"Target.targetCreated","params":{}}`))
	require.Equal(t, KindNotification, f.Kind)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":        `{"id":`,
		"not an object":       `[1,2,3]`,
		"empty object":        `{}`,
		"string id":           `{"id":"7","result":{}}`,
		"fractional id":       `{"id":1.5,"result":{}}`,
		"peer request":        `{"id":1,"method":"Page.enable"}`,
		"result and error":    `{"id":1,"result":{},"error":{"code":1,"message":"x"}}`,
		"notification result": `{"method":"X.y","result":{}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			f := Decode([]byte(in))
			require.Equal(t, KindMalformed, f.Kind)
			require.True(t, errors.Is(f.Err, ErrMalformed), "err %v should wrap ErrMalformed", f.Err)
		})
	}
}

func TestDecodeRequestRejectsNotification(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"method":"Page.loadEventFired"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestNotificationCloneIsIndependent(t *testing.T) {
	n := Notification{Method: "A.b", Params: json.RawMessage(`{"x":1}`)}
	c := n.Clone()
	c.Params[2] = 'y'
	require.Equal(t, `{"x":1}`, string(n.Params))
}
