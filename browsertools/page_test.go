package browsertools

import (
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/stretchr/testify/require"
)

const (
	evalTrue  = `{"result":{"type":"boolean","value":true}}`
	evalFalse = `{"result":{"type":"boolean","value":false}}`
)

func evalString(s string) string {
	return `{"result":{"type":"string","value":"` + s + `"}}`
}

func TestReadPage(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{"Runtime.evaluate": evalString("Hello world")}}
	c := newTools(f)

	res := callTool(t, c, "browser_read_page", `{}`)
	require.False(t, res.IsError)
	require.Equal(t, "Hello world", text(res))

	res = callTool(t, c, "browser_read_page", `{"maxChars":5}`)
	require.False(t, res.IsError)
	require.True(t, strings.HasPrefix(text(res), "Hello\n\n"))
	require.Contains(t, text(res), "showing 5 of 11 characters")
}

func TestWaitForFindsElement(t *testing.T) {
	f := &fakeBrowser{
		replies: map[string]string{"Runtime.evaluate": evalTrue},
		queued:  map[string][]string{"Runtime.evaluate": {evalFalse}},
	}
	res := callTool(t, newTools(f), "browser_wait_for", `{"selector":"#done"}`)
	require.False(t, res.IsError)
	require.Contains(t, text(res), "found #done")
	require.Equal(t, []string{"Runtime.evaluate", "Runtime.evaluate"}, f.calls)
}

func TestWaitForTimesOut(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{"Runtime.evaluate": evalFalse}}

	start := time.Now()
	res := callTool(t, newTools(f), "browser_wait_for", `{"selector":"#never","timeoutMs":50}`)
	require.True(t, res.IsError)
	require.Equal(t, "timed out waiting for #never after 50ms", text(res))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait took %s", elapsed)
	}
}

func TestWaitForRejectsEmptySelector(t *testing.T) {
	f := &fakeBrowser{}
	res := callTool(t, newTools(f), "browser_wait_for", `{"selector":" "}`)
	require.True(t, res.IsError)
	require.Empty(t, f.calls)
}

func TestScrollTool(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{"Runtime.evaluate": `{"result":{"type":"object","value":{"x":0,"y":300}}}`}}
	res := callTool(t, newTools(f), "browser_scroll", `{"y":300}`)
	require.False(t, res.IsError)
	require.Equal(t, float64(300), res.StructuredContent["y"])
}

func TestBackAndForward(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{
		"Page.getNavigationHistory":   `{"currentIndex":0,"entries":[{"id":1,"url":"https://a.example","title":"A"},{"id":2,"url":"https://b.example","title":"B"}]}`,
		"Page.navigateToHistoryEntry": `{}`,
	}}
	c := newTools(f)

	res := callTool(t, c, "browser_back", `{}`)
	require.True(t, res.IsError)
	require.Equal(t, "no history entry to go back to", text(res))

	res = callTool(t, c, "browser_forward", `{}`)
	require.False(t, res.IsError)
	require.Equal(t, "https://b.example", res.StructuredContent["url"])
	require.Equal(t, []string{"Page.getNavigationHistory", "Page.getNavigationHistory", "Page.navigateToHistoryEntry"}, f.calls)
}

func TestSelectOptionAndSubmitForm(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{"Runtime.evaluate": evalString("ok")}}
	c := newTools(f)

	res := callTool(t, c, "browser_select_option", `{"selector":"#size","value":"l"}`)
	require.False(t, res.IsError)
	require.Equal(t, `selected "l" in #size`, text(res))

	f.replies["Runtime.evaluate"] = evalString("no_option")
	res = callTool(t, c, "browser_select_option", `{"selector":"#size","value":"xxl"}`)
	require.True(t, res.IsError)
	require.Equal(t, "#size has no option with that value", text(res))

	f.replies["Runtime.evaluate"] = evalString("no_form")
	res = callTool(t, c, "browser_submit_form", `{"selector":"#lonely"}`)
	require.True(t, res.IsError)
	require.Equal(t, "#lonely is not inside a form", text(res))

	f.replies["Runtime.evaluate"] = evalString("ok")
	res = callTool(t, c, "browser_submit_form", `{"selector":"#login"}`)
	require.False(t, res.IsError)
}

func TestPressKey(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{"Input.dispatchKeyEvent": `{}`}}
	c := newTools(f)

	res := callTool(t, c, "browser_press_key", `{"key":"Enter"}`)
	require.False(t, res.IsError)
	require.Equal(t, "pressed Enter", text(res))
	require.Equal(t, []string{"Input.dispatchKeyEvent", "Input.dispatchKeyEvent"}, f.calls)

	f.errs = map[string]error{"Input.dispatchKeyEvent": &engine.RemoteError{Code: -32602, Message: "Invalid parameters"}}
	res = callTool(t, c, "browser_press_key", `{"key":"Tab"}`)
	require.True(t, res.IsError)
	require.Contains(t, text(res), "Invalid parameters")

	require.True(t, callTool(t, c, "browser_press_key", `{"key":""}`).IsError)
}

func TestHoverTool(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{
		"Runtime.evaluate":         `{"result":{"type":"object","value":{"x":10,"y":20.5}}}`,
		"Input.dispatchMouseEvent": `{}`,
	}}
	c := newTools(f)

	res := callTool(t, c, "browser_hover", `{"selector":"#menu"}`)
	require.False(t, res.IsError)
	require.Equal(t, "hovering #menu at (10, 20.5)", text(res))

	f.replies["Runtime.evaluate"] = `{"result":{"type":"object","subtype":"null","value":null}}`
	res = callTool(t, c, "browser_hover", `{"selector":"#gone"}`)
	require.True(t, res.IsError)
	require.Equal(t, "no element matches #gone", text(res))
}

func TestDiscoverWebMCPTools(t *testing.T) {
	f := &fakeBrowser{replies: map[string]string{
		"Runtime.evaluate": `{"result":{"type":"object","value":{"supported":true,"tools":[{"name":"search","description":"Search the catalog"}]}}}`,
	}}
	res := callTool(t, newTools(f), "browser_discover_webmcp_tools", `{}`)
	require.False(t, res.IsError)
	require.Equal(t, true, res.StructuredContent["supported"])
	tools := res.StructuredContent["tools"].([]any)
	require.Len(t, tools, 1)
	require.Equal(t, "search", tools[0].(map[string]any)["name"])
}
