package browser

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	method string
	params any
}

// seqCaller answers calls through reply and records every call in order.
type seqCaller struct {
	mu    sync.Mutex
	calls []recordedCall
	reply func(n int, method string, params any) (string, error)
}

func (s *seqCaller) Call(_ context.Context, method string, params any, _ ...engine.CallOption) (json.RawMessage, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, recordedCall{method: method, params: params})
	s.mu.Unlock()
	raw, err := s.reply(n, method, params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (s *seqCaller) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.method
	}
	return out
}

func valueReply(t *testing.T, typ string, v any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"result": map[string]any{"type": typ, "value": v}})
	require.NoError(t, err)
	return string(b)
}

func TestReadPageTextTruncates(t *testing.T) {
	long := strings.Repeat("é", DefaultMaxPageChars+5)
	c := &stubCaller{raw: valueReply(t, "string", long)}
	page, err := Do(context.Background(), c, ReadPageText{})
	require.NoError(t, err)
	require.Equal(t, "Runtime.evaluate", c.method)
	require.Contains(t, c.params.(map[string]any)["expression"], "innerText")
	require.True(t, page.Truncated)
	require.Equal(t, DefaultMaxPageChars+5, page.Length)
	require.Equal(t, strings.Repeat("é", DefaultMaxPageChars), page.Text)

	c = &stubCaller{raw: valueReply(t, "string", "short")}
	page, err = Do(context.Background(), c, ReadPageText{MaxChars: 3})
	require.NoError(t, err)
	require.Equal(t, PageText{Text: "sho", Length: 5, Truncated: true}, page)

	page, err = Do(context.Background(), c, ReadPageText{MaxChars: -1})
	require.NoError(t, err)
	require.Equal(t, PageText{Text: "short", Length: 5}, page)
}

func TestReadPageTextRejectsNonString(t *testing.T) {
	c := &stubCaller{raw: `{"result":{"type":"undefined"}}`}
	_, err := Do(context.Background(), c, ReadPageText{})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestScroll(t *testing.T) {
	c := &stubCaller{raw: valueReply(t, "object", map[string]float64{"x": 0, "y": 640})}
	pos, err := Do(context.Background(), c, Scroll{Y: 640.5})
	require.NoError(t, err)
	require.Equal(t, Point{Y: 640}, pos)
	require.Contains(t, c.params.(map[string]any)["expression"], "window.scrollBy(0, 640.5)")
}

func TestSelectOptionStatuses(t *testing.T) {
	for _, status := range []ElementStatus{StatusOK, StatusNotFound, StatusNotSelect, StatusNoOption} {
		c := &stubCaller{raw: valueReply(t, "string", string(status))}
		got, err := Do(context.Background(), c, SelectOption{Selector: "#size", Value: `x"l`})
		require.NoError(t, err)
		require.Equal(t, status, got)
		require.Contains(t, c.params.(map[string]any)["expression"], `"x\"l"`)
	}

	c := &stubCaller{raw: valueReply(t, "string", "no_form")}
	_, err := Do(context.Background(), c, SelectOption{Selector: "#size", Value: "l"})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestSubmitForm(t *testing.T) {
	c := &stubCaller{raw: valueReply(t, "string", "no_form")}
	got, err := Do(context.Background(), c, SubmitForm{Selector: "#go"})
	require.NoError(t, err)
	require.Equal(t, StatusNoForm, got)
	require.Contains(t, c.params.(map[string]any)["expression"], `closest("form")`)
}

func TestDiscoverWebMCPTools(t *testing.T) {
	c := &stubCaller{raw: valueReply(t, "object", map[string]any{"supported": false, "tools": nil})}
	tools, err := Do(context.Background(), c, DiscoverWebMCPTools{})
	require.NoError(t, err)
	require.False(t, tools.Supported)
	require.NotNil(t, tools.Tools)

	c = &stubCaller{raw: valueReply(t, "object", map[string]any{
		"supported": true,
		"tools": []any{map[string]any{
			"name":        "add_to_cart",
			"description": "Add an item",
			"inputSchema": map[string]any{"type": "object"},
		}},
	})}
	tools, err = Do(context.Background(), c, DiscoverWebMCPTools{})
	require.NoError(t, err)
	require.True(t, tools.Supported)
	require.Len(t, tools.Tools, 1)
	require.Equal(t, "add_to_cart", tools.Tools[0].Name)
	require.JSONEq(t, `{"type":"object"}`, string(tools.Tools[0].InputSchema))
}

func TestGetNavigationHistoryValidatesIndex(t *testing.T) {
	c := &stubCaller{raw: `{"currentIndex":2,"entries":[{"id":1,"url":"a","title":"A"}]}`}
	_, err := Do(context.Background(), c, GetNavigationHistory{})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "Page.getNavigationHistory", de.Method)
}

const history = `{"currentIndex":1,"entries":[
	{"id":10,"url":"https://a.example","title":"A"},
	{"id":11,"url":"https://b.example","title":"B"},
	{"id":12,"url":"https://c.example","title":"C"}]}`

func TestGoBackAndForward(t *testing.T) {
	c := &seqCaller{reply: func(_ int, method string, _ any) (string, error) {
		if method == "Page.getNavigationHistory" {
			return history, nil
		}
		return `{}`, nil
	}}

	entry, err := GoBack(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, "https://a.example", entry.URL)
	require.JSONEq(t, `{"entryId":10}`, paramsJSON(t, c.calls[1].params))

	entry, err = GoForward(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, int64(12), entry.ID)
	require.JSONEq(t, `{"entryId":12}`, paramsJSON(t, c.calls[3].params))
	require.Equal(t, []string{
		"Page.getNavigationHistory", "Page.navigateToHistoryEntry",
		"Page.getNavigationHistory", "Page.navigateToHistoryEntry",
	}, c.methods())
}

func TestGoBackAtStart(t *testing.T) {
	c := &seqCaller{reply: func(int, string, any) (string, error) {
		return `{"currentIndex":0,"entries":[{"id":1,"url":"about:blank","title":""}]}`, nil
	}}
	_, err := GoBack(context.Background(), c)
	require.ErrorIs(t, err, ErrNoHistoryEntry)
	require.Equal(t, []string{"Page.getNavigationHistory"}, c.methods())
}

func TestWaitForPollsUntilFound(t *testing.T) {
	c := &seqCaller{reply: func(n int, _ string, _ any) (string, error) {
		return valueReply(t, "boolean", n >= 2), nil
	}}
	err := WaitFor(context.Background(), c, "#ready", time.Millisecond)
	require.NoError(t, err)
	require.Len(t, c.methods(), 3)
	require.Contains(t, c.calls[0].params.(map[string]any)["expression"], `document.querySelector("#ready") !== null`)
}

func TestWaitForHonorsContext(t *testing.T) {
	c := &seqCaller{reply: func(int, string, any) (string, error) {
		return valueReply(t, "boolean", false), nil
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := WaitFor(ctx, c, "#never", 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("WaitFor took %s after its deadline", elapsed)
	}
}

func TestWaitForStopsOnCallError(t *testing.T) {
	c := &seqCaller{reply: func(int, string, any) (string, error) {
		return "", engine.ErrConnectionLost
	}}
	err := WaitFor(context.Background(), c, "#x", 0)
	require.ErrorIs(t, err, engine.ErrConnectionLost)
	require.Len(t, c.methods(), 1)
}

func TestPressKeyNamed(t *testing.T) {
	c := &seqCaller{reply: func(int, string, any) (string, error) { return `{}`, nil }}
	require.NoError(t, PressKey(context.Background(), c, "Enter"))
	require.Equal(t, []string{"Input.dispatchKeyEvent", "Input.dispatchKeyEvent"}, c.methods())
	require.JSONEq(t,
		`{"type":"keyDown","key":"Enter","code":"Enter","text":"\r","windowsVirtualKeyCode":13,"nativeVirtualKeyCode":13}`,
		paramsJSON(t, c.calls[0].params))
	require.JSONEq(t,
		`{"type":"keyUp","key":"Enter","code":"Enter","windowsVirtualKeyCode":13,"nativeVirtualKeyCode":13}`,
		paramsJSON(t, c.calls[1].params))
}

func TestPressKeyUnknownPassesThrough(t *testing.T) {
	c := &seqCaller{reply: func(int, string, any) (string, error) { return `{}`, nil }}
	require.NoError(t, PressKey(context.Background(), c, "F5"))
	require.JSONEq(t, `{"type":"keyDown","key":"F5","code":"F5"}`, paramsJSON(t, c.calls[0].params))
}

func TestPressKeyStopsAfterFailedKeyDown(t *testing.T) {
	boom := &engine.RemoteError{Code: -32000, Message: "boom"}
	c := &seqCaller{reply: func(int, string, any) (string, error) { return "", boom }}
	err := PressKey(context.Background(), c, "Tab")
	require.ErrorIs(t, err, boom)
	require.Len(t, c.methods(), 1)
}

func TestHover(t *testing.T) {
	c := &seqCaller{reply: func(n int, method string, _ any) (string, error) {
		if method == "Runtime.evaluate" {
			return valueReply(t, "object", map[string]float64{"x": 50, "y": 20}), nil
		}
		return `{}`, nil
	}}
	p, found, err := Hover(context.Background(), c, "#menu")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Point{X: 50, Y: 20}, p)
	require.JSONEq(t, `{"type":"mouseMoved","x":50,"y":20,"button":"none","clickCount":0}`, paramsJSON(t, c.calls[1].params))
}

func TestHoverNotFound(t *testing.T) {
	c := &seqCaller{reply: func(int, string, any) (string, error) {
		return `{"result":{"type":"object","subtype":"null","value":null}}`, nil
	}}
	_, found, err := Hover(context.Background(), c, "#missing")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, []string{"Runtime.evaluate"}, c.methods())
}
