package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is a JSON-RPC id: a string or an integer. The zero value is the
// null id.
type RequestID struct {
	str   string
	num   int64
	isStr bool
	isNum bool
}

// StringID returns a string id.
func StringID(s string) *RequestID { return &RequestID{str: s, isStr: true} }

// IntID returns a numeric id.
func IntID(n int64) *RequestID { return &RequestID{num: n, isNum: true} }

// IsNil reports whether the id is absent or null.
func (id *RequestID) IsNil() bool {
	return id == nil || (!id.isStr && !id.isNum)
}

// String returns the id's text, without quotes.
func (id *RequestID) String() string {
	switch {
	case id.IsNil():
		return ""
	case id.isStr:
		return id.str
	default:
		return strconv.FormatInt(id.num, 10)
	}
}

// Key returns a value that distinguishes "1" from 1, for use as a map key.
func (id *RequestID) Key() string {
	switch {
	case id.IsNil():
		return ""
	case id.isStr:
		return "s:" + id.str
	default:
		return "n:" + strconv.FormatInt(id.num, 10)
	}
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	switch {
	case id.IsNil():
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Fractional numbers are rejected.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*id = RequestID{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &id.str); err != nil {
			return err
		}
		id.isStr = true
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("JSON-RPC id must be a string or integer, got: %s", string(data))
	}
	id.num, id.isNum = n, true
	return nil
}
