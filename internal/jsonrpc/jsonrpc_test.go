package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	for _, in := range []string{`1`, `"abc"`, `"1"`, `-7`} {
		var id RequestID
		if err := json.Unmarshal([]byte(in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal %s: %v", in, err)
		}
		if string(out) != in {
			t.Fatalf("round trip %s -> %s", in, out)
		}
	}
}

func TestRequestIDKeysDistinguishTypes(t *testing.T) {
	if IntID(1).Key() == StringID("1").Key() {
		t.Fatalf("numeric and string ids must not collide")
	}
	if IntID(1).String() != "1" || StringID("1").String() != "1" {
		t.Fatalf("unexpected String() values")
	}
}

func TestRequestIDRejectsFractions(t *testing.T) {
	var id RequestID
	if err := json.Unmarshal([]byte(`1.5`), &id); err == nil {
		t.Fatalf("expected error for fractional id")
	}
	if err := json.Unmarshal([]byte(`{}`), &id); err == nil {
		t.Fatalf("expected error for object id")
	}
}

func TestNullIDIsNil(t *testing.T) {
	var msg AnyMessage
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"x","id":null}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type() != "notification" {
		t.Fatalf("expected notification, got %s", msg.Type())
	}
}

func TestErrorResponseWithoutIDEncodesNull(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32700,"message":"parse error"},"id":null}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestAnyMessageValidation(t *testing.T) {
	for name, in := range map[string]string{
		"wrong version":       `{"jsonrpc":"1.0","method":"x","id":1}`,
		"request with result": `{"jsonrpc":"2.0","method":"x","result":{},"id":1}`,
		"empty response":      `{"jsonrpc":"2.0","id":1}`,
		"both result & error": `{"jsonrpc":"2.0","result":{},"error":{"code":1,"message":"m"},"id":1}`,
		"not json":            `{`,
	} {
		var msg AnyMessage
		if err := json.Unmarshal([]byte(in), &msg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestAnyMessageKinds(t *testing.T) {
	var msg AnyMessage
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"x"},"id":"a"}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	req := msg.AsRequest()
	if req == nil || req.IsNotification() || req.ID.String() != "a" || msg.AsResponse() != nil {
		t.Fatalf("unexpected request view: %+v", req)
	}

	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","result":{},"id":3}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type() != "response" || msg.AsRequest() != nil || msg.AsResponse().ID.String() != "3" {
		t.Fatalf("unexpected response view: %+v", msg)
	}
}
