package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// decodeValue reads an evaluation's by-value result into T. A script
// exception is a decode failure.
func decodeValue[T any](raw json.RawMessage) (T, error) {
	var out T
	r, err := decodeEvaluate(raw)
	if err != nil {
		return out, err
	}
	if r.Exception != "" {
		return out, fmt.Errorf("script threw: %s", r.Exception)
	}
	if len(r.Value) == 0 {
		if r.Subtype != "null" {
			return out, fmt.Errorf("expected a value, got %s", r.Type)
		}
		r.Value = json.RawMessage("null")
	}
	if err := json.Unmarshal(r.Value, &out); err != nil {
		return out, fmt.Errorf("unexpected %s value: %w", r.Type, err)
	}
	return out, nil
}

func jsNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// DefaultMaxPageChars bounds ReadPageText when MaxChars is zero.
const DefaultMaxPageChars = 10000

// ReadPageText reads the rendered text of the page body.
type ReadPageText struct {
	// MaxChars truncates the text to this many characters. Zero means
	// DefaultMaxPageChars; negative means no limit.
	MaxChars int
}

// PageText is the page's visible text. Length counts the characters before
// truncation.
type PageText struct {
	Text      string `json:"text"`
	Length    int    `json:"length"`
	Truncated bool   `json:"truncated"`
}

func (ReadPageText) Method() string { return "Runtime.evaluate" }

func (ReadPageText) Params() any {
	return evaluateParams(`document.body ? document.body.innerText : ""`, false)
}

func (c ReadPageText) Decode(raw json.RawMessage) (PageText, error) {
	text, err := decodeValue[string](raw)
	if err != nil {
		return PageText{}, err
	}
	out := PageText{Text: text, Length: utf8.RuneCountInString(text)}
	limit := c.MaxChars
	if limit == 0 {
		limit = DefaultMaxPageChars
	}
	if limit > 0 && out.Length > limit {
		out.Text = string([]rune(text)[:limit])
		out.Truncated = true
	}
	return out, nil
}

func (ReadPageText) sealed() {}

// ElementExists reports whether any element matches Selector.
type ElementExists struct {
	Selector string
}

func (ElementExists) Method() string { return "Runtime.evaluate" }

func (c ElementExists) Params() any {
	return evaluateParams(fmt.Sprintf("document.querySelector(%s) !== null", jsString(c.Selector)), false)
}

func (ElementExists) Decode(raw json.RawMessage) (bool, error) { return decodeBool(raw) }

func (ElementExists) sealed() {}

// Point is a position in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Scroll scrolls the window by X and Y pixels and reports the resulting
// scroll offset.
type Scroll struct {
	X float64
	Y float64
}

func (Scroll) Method() string { return "Runtime.evaluate" }

func (c Scroll) Params() any {
	expr := fmt.Sprintf(`(() => {
  window.scrollBy(%s, %s);
  return {x: window.scrollX, y: window.scrollY};
})()`, jsNumber(c.X), jsNumber(c.Y))
	return evaluateParams(expr, false)
}

func (Scroll) Decode(raw json.RawMessage) (Point, error) { return decodeValue[Point](raw) }

func (Scroll) sealed() {}

// ElementCenter locates the center of the first element matching Selector,
// scrolling it into view first. The result is nil when nothing matches.
type ElementCenter struct {
	Selector string
}

func (ElementCenter) Method() string { return "Runtime.evaluate" }

func (c ElementCenter) Params() any {
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return null;
  el.scrollIntoView({block: "center", inline: "center"});
  const r = el.getBoundingClientRect();
  return {x: r.x + r.width / 2, y: r.y + r.height / 2};
})()`, jsString(c.Selector))
	return evaluateParams(expr, false)
}

func (ElementCenter) Decode(raw json.RawMessage) (*Point, error) { return decodeValue[*Point](raw) }

func (ElementCenter) sealed() {}

// ElementStatus is the outcome of a form interaction script.
type ElementStatus string

const (
	StatusOK        ElementStatus = "ok"
	StatusNotFound  ElementStatus = "not_found"
	StatusNotSelect ElementStatus = "not_select"
	StatusNoOption  ElementStatus = "no_option"
	StatusNoForm    ElementStatus = "no_form"
)

func decodeStatus(raw json.RawMessage, allowed ...ElementStatus) (ElementStatus, error) {
	s, err := decodeValue[ElementStatus](raw)
	if err != nil {
		return "", err
	}
	if s == StatusOK || s == StatusNotFound {
		return s, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// SelectOption picks the option whose value is Value in the <select>
// matching Selector, firing input and change events.
type SelectOption struct {
	Selector string
	Value    string
}

func (SelectOption) Method() string { return "Runtime.evaluate" }

func (c SelectOption) Params() any {
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return "not_found";
  if (el.tagName !== "SELECT") return "not_select";
  const value = %s;
  if (!Array.from(el.options).some(o => o.value === value)) return "no_option";
  el.value = value;
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return "ok";
})()`, jsString(c.Selector), jsString(c.Value))
	return evaluateParams(expr, false)
}

func (SelectOption) Decode(raw json.RawMessage) (ElementStatus, error) {
	return decodeStatus(raw, StatusNotSelect, StatusNoOption)
}

func (SelectOption) sealed() {}

// SubmitForm submits the form matching Selector, or the form enclosing the
// matched element.
type SubmitForm struct {
	Selector string
}

func (SubmitForm) Method() string { return "Runtime.evaluate" }

func (c SubmitForm) Params() any {
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return "not_found";
  const form = el.tagName === "FORM" ? el : el.closest("form");
  if (!form) return "no_form";
  if (typeof form.requestSubmit === "function") form.requestSubmit();
  else form.submit();
  return "ok";
})()`, jsString(c.Selector))
	return evaluateParams(expr, false)
}

func (SubmitForm) Decode(raw json.RawMessage) (ElementStatus, error) {
	return decodeStatus(raw, StatusNoForm)
}

func (SubmitForm) sealed() {}

// DiscoverWebMCPTools lists tools the page declares through
// navigator.modelContext.
type DiscoverWebMCPTools struct{}

// WebMCPTools is what the page exposes. Supported is false when the page has
// no navigator.modelContext.
type WebMCPTools struct {
	Supported bool         `json:"supported"`
	Tools     []WebMCPTool `json:"tools"`
}

// WebMCPTool is one page-declared tool.
type WebMCPTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

func (DiscoverWebMCPTools) Method() string { return "Runtime.evaluate" }

func (DiscoverWebMCPTools) Params() any {
	return evaluateParams(`(() => {
  const mc = navigator.modelContext;
  if (!mc) return {supported: false, tools: []};
  const tools = Array.isArray(mc.tools) ? mc.tools : [];
  return {
    supported: true,
    tools: tools.map(t => ({name: t.name, description: t.description, inputSchema: t.inputSchema})),
  };
})()`, false)
}

func (DiscoverWebMCPTools) Decode(raw json.RawMessage) (WebMCPTools, error) {
	out, err := decodeValue[WebMCPTools](raw)
	if err != nil {
		return out, err
	}
	if out.Tools == nil {
		out.Tools = []WebMCPTool{}
	}
	return out, nil
}

func (DiscoverWebMCPTools) sealed() {}

// GetNavigationHistory reads the current page's session history.
type GetNavigationHistory struct{}

// NavigationHistory is the session history with the current position.
type NavigationHistory struct {
	CurrentIndex int            `json:"currentIndex"`
	Entries      []HistoryEntry `json:"entries"`
}

// HistoryEntry is one session history entry.
type HistoryEntry struct {
	ID             int64  `json:"id"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	TransitionType string `json:"transitionType,omitempty"`
}

func (GetNavigationHistory) Method() string { return "Page.getNavigationHistory" }

func (GetNavigationHistory) Params() any { return nil }

func (GetNavigationHistory) Decode(raw json.RawMessage) (NavigationHistory, error) {
	h, err := decodeInto[NavigationHistory](raw)
	if err != nil {
		return h, err
	}
	if h.CurrentIndex < 0 || h.CurrentIndex >= len(h.Entries) {
		return h, fmt.Errorf("current index %d outside %d entries", h.CurrentIndex, len(h.Entries))
	}
	return h, nil
}

func (GetNavigationHistory) sealed() {}

// NavigateToHistoryEntry moves to a session history entry by id.
type NavigateToHistoryEntry struct {
	EntryID int64
}

func (NavigateToHistoryEntry) Method() string { return "Page.navigateToHistoryEntry" }

func (c NavigateToHistoryEntry) Params() any { return map[string]any{"entryId": c.EntryID} }

func (NavigateToHistoryEntry) Decode(raw json.RawMessage) (Empty, error) { return decodeEmpty(raw) }

func (NavigateToHistoryEntry) sealed() {}

// MouseButton names the button of a mouse event.
type MouseButton string

const (
	ButtonNone  MouseButton = "none"
	ButtonLeft  MouseButton = "left"
	ButtonRight MouseButton = "right"
)

// DispatchMouseEvent sends one synthetic mouse event.
type DispatchMouseEvent struct {
	// Type is mousePressed, mouseReleased, mouseMoved or mouseWheel.
	Type       string
	X, Y       float64
	Button     MouseButton
	ClickCount int
}

func (DispatchMouseEvent) Method() string { return "Input.dispatchMouseEvent" }

func (c DispatchMouseEvent) Params() any {
	button := c.Button
	if button == "" {
		button = ButtonNone
	}
	return map[string]any{
		"type":       c.Type,
		"x":          c.X,
		"y":          c.Y,
		"button":     string(button),
		"clickCount": c.ClickCount,
	}
}

func (DispatchMouseEvent) Decode(raw json.RawMessage) (Empty, error) { return decodeEmpty(raw) }

func (DispatchMouseEvent) sealed() {}

// DispatchKeyEvent sends one synthetic key event.
type DispatchKeyEvent struct {
	// Type is keyDown, keyUp, rawKeyDown or char.
	Type                  string
	Key                   string
	Code                  string
	Text                  string
	WindowsVirtualKeyCode int
	NativeVirtualKeyCode  int
}

func (DispatchKeyEvent) Method() string { return "Input.dispatchKeyEvent" }

func (c DispatchKeyEvent) Params() any {
	p := map[string]any{"type": c.Type}
	if c.Key != "" {
		p["key"] = c.Key
	}
	if c.Code != "" {
		p["code"] = c.Code
	}
	if c.Text != "" {
		p["text"] = c.Text
	}
	if c.WindowsVirtualKeyCode != 0 {
		p["windowsVirtualKeyCode"] = c.WindowsVirtualKeyCode
		p["nativeVirtualKeyCode"] = c.NativeVirtualKeyCode
	}
	return p
}

func (DispatchKeyEvent) Decode(raw json.RawMessage) (Empty, error) { return decodeEmpty(raw) }

func (DispatchKeyEvent) sealed() {}

// ErrNoHistoryEntry is returned by GoBack and GoForward at either end of the
// session history.
var ErrNoHistoryEntry = errors.New("no history entry in that direction")

// Compile-time checks for the page commands.
var (
	_ Command[PageText]          = ReadPageText{}
	_ Command[bool]              = ElementExists{}
	_ Command[Point]             = Scroll{}
	_ Command[*Point]            = ElementCenter{}
	_ Command[ElementStatus]     = SelectOption{}
	_ Command[ElementStatus]     = SubmitForm{}
	_ Command[WebMCPTools]       = DiscoverWebMCPTools{}
	_ Command[NavigationHistory] = GetNavigationHistory{}
	_ Command[Empty]             = NavigateToHistoryEntry{}
	_ Command[Empty]             = DispatchMouseEvent{}
	_ Command[Empty]             = DispatchKeyEvent{}
)
