package browser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Empty is the result of commands that return nothing useful.
type Empty struct{}

func decodeEmpty(raw json.RawMessage) (Empty, error) {
	_, err := decodeInto[map[string]json.RawMessage](raw)
	return Empty{}, err
}

// Navigate loads URL in the current page.
type Navigate struct {
	URL      string
	Referrer string
}

// NavigateResult identifies the navigation. ErrorText is set by the browser
// when the load failed (for example a DNS error) even though the call itself
// succeeded.
type NavigateResult struct {
	FrameID   string `json:"frameId"`
	LoaderID  string `json:"loaderId,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

func (Navigate) Method() string { return "Page.navigate" }

func (c Navigate) Params() any {
	p := map[string]any{"url": c.URL}
	if c.Referrer != "" {
		p["referrer"] = c.Referrer
	}
	return p
}

func (Navigate) Decode(raw json.RawMessage) (NavigateResult, error) {
	out, err := decodeInto[NavigateResult](raw)
	if err != nil {
		return out, err
	}
	if out.FrameID == "" {
		return out, errors.New("missing frameId")
	}
	return out, nil
}

func (Navigate) sealed() {}

// Reload reloads the current page.
type Reload struct {
	IgnoreCache bool
}

func (Reload) Method() string { return "Page.reload" }

func (c Reload) Params() any {
	return map[string]any{"ignoreCache": c.IgnoreCache}
}

func (Reload) Decode(raw json.RawMessage) (Empty, error) { return decodeEmpty(raw) }

func (Reload) sealed() {}

// remoteObject is the subset of a Runtime.RemoteObject the commands read.
type remoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
}

type evaluateReply struct {
	Result           *remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string        `json:"text"`
		Exception *remoteObject `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}

func decodeEvaluate(raw json.RawMessage) (EvaluateResult, error) {
	r, err := decodeInto[evaluateReply](raw)
	if err != nil {
		return EvaluateResult{}, err
	}
	if r.Result == nil {
		return EvaluateResult{}, errors.New("missing result object")
	}
	out := EvaluateResult{
		Type:        r.Result.Type,
		Subtype:     r.Result.Subtype,
		Value:       r.Result.Value,
		Description: r.Result.Description,
	}
	if r.Result.UnserializableValue != "" {
		out.Value = json.RawMessage(fmt.Sprintf("%q", r.Result.UnserializableValue))
	}
	if d := r.ExceptionDetails; d != nil {
		out.Exception = d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			out.Exception = d.Exception.Description
		}
	}
	return out, nil
}

func evaluateParams(expression string, awaitPromise bool) map[string]any {
	return map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  awaitPromise,
	}
}

// Evaluate runs a JavaScript expression in the page.
type Evaluate struct {
	Expression   string
	AwaitPromise bool
}

// EvaluateResult is the value an expression produced. Exception is non-empty
// when the script threw; the call itself still succeeded.
type EvaluateResult struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	Exception   string          `json:"exception,omitempty"`
}

func (Evaluate) Method() string { return "Runtime.evaluate" }

func (c Evaluate) Params() any { return evaluateParams(c.Expression, c.AwaitPromise) }

func (Evaluate) Decode(raw json.RawMessage) (EvaluateResult, error) { return decodeEvaluate(raw) }

func (Evaluate) sealed() {}

// decodeBool reads a boolean-valued evaluation, treating a script exception
// as a decode failure.
func decodeBool(raw json.RawMessage) (bool, error) {
	r, err := decodeEvaluate(raw)
	if err != nil {
		return false, err
	}
	if r.Exception != "" {
		return false, fmt.Errorf("script threw: %s", r.Exception)
	}
	var b bool
	if err := json.Unmarshal(r.Value, &b); err != nil {
		return false, fmt.Errorf("expected boolean, got %s", r.Type)
	}
	return b, nil
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Click clicks the first element matching a CSS selector. The result reports
// whether an element was found.
type Click struct {
	Selector string
}

func (Click) Method() string { return "Runtime.evaluate" }

func (c Click) Params() any {
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.scrollIntoView({block: "center", inline: "center"});
  el.click();
  return true;
})()`, jsString(c.Selector))
	return evaluateParams(expr, false)
}

func (Click) Decode(raw json.RawMessage) (bool, error) { return decodeBool(raw) }

func (Click) sealed() {}

// TypeText focuses the first element matching Selector and replaces its value
// with Text, firing input and change events. The result reports whether an
// element was found.
type TypeText struct {
	Selector string
	Text     string
}

func (TypeText) Method() string { return "Runtime.evaluate" }

func (c TypeText) Params() any {
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.focus();
  if ("value" in el) {
    el.value = %s;
    el.dispatchEvent(new Event("input", {bubbles: true}));
    el.dispatchEvent(new Event("change", {bubbles: true}));
  } else {
    el.textContent = %s;
  }
  return true;
})()`, jsString(c.Selector), jsString(c.Text), jsString(c.Text))
	return evaluateParams(expr, false)
}

func (TypeText) Decode(raw json.RawMessage) (bool, error) { return decodeBool(raw) }

func (TypeText) sealed() {}

// GetDocumentTitle reads document.title.
type GetDocumentTitle struct{}

func (GetDocumentTitle) Method() string { return "Runtime.evaluate" }

func (GetDocumentTitle) Params() any { return evaluateParams("document.title", false) }

func (GetDocumentTitle) Decode(raw json.RawMessage) (string, error) {
	r, err := decodeEvaluate(raw)
	if err != nil {
		return "", err
	}
	if r.Exception != "" {
		return "", fmt.Errorf("script threw: %s", r.Exception)
	}
	var title string
	if err := json.Unmarshal(r.Value, &title); err != nil {
		return "", fmt.Errorf("expected string, got %s", r.Type)
	}
	return title, nil
}

func (GetDocumentTitle) sealed() {}

// ImageFormat is a screenshot encoding.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
)

// CaptureScreenshot captures the current page.
type CaptureScreenshot struct {
	Format ImageFormat
	// Quality applies to jpeg and webp, 0-100. Zero leaves the browser default.
	Quality int
	// FullPage captures beyond the viewport.
	FullPage bool
}

// Screenshot holds decoded image bytes.
type Screenshot struct {
	Format ImageFormat
	Data   []byte
}

// MimeType returns the image media type.
func (s Screenshot) MimeType() string { return "image/" + string(s.Format) }

func (c CaptureScreenshot) format() ImageFormat {
	if c.Format == "" {
		return FormatPNG
	}
	return c.Format
}

func (CaptureScreenshot) Method() string { return "Page.captureScreenshot" }

func (c CaptureScreenshot) Params() any {
	p := map[string]any{"format": string(c.format())}
	if c.Quality > 0 && c.format() != FormatPNG {
		p["quality"] = c.Quality
	}
	if c.FullPage {
		p["captureBeyondViewport"] = true
	}
	return p
}

func (c CaptureScreenshot) Decode(raw json.RawMessage) (Screenshot, error) {
	r, err := decodeInto[struct {
		Data string `json:"data"`
	}](raw)
	if err != nil {
		return Screenshot{}, err
	}
	if r.Data == "" {
		return Screenshot{}, errors.New("missing image data")
	}
	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return Screenshot{}, fmt.Errorf("image data: %w", err)
	}
	return Screenshot{Format: c.format(), Data: data}, nil
}

func (CaptureScreenshot) sealed() {}

// GetVersion reports the browser build.
type GetVersion struct{}

// Version describes the browser build.
type Version struct {
	ProtocolVersion string `json:"protocolVersion"`
	Product         string `json:"product"`
	Revision        string `json:"revision"`
	UserAgent       string `json:"userAgent"`
	JSVersion       string `json:"jsVersion"`
}

func (GetVersion) Method() string { return "Browser.getVersion" }

func (GetVersion) Params() any { return nil }

func (GetVersion) Decode(raw json.RawMessage) (Version, error) {
	v, err := decodeInto[Version](raw)
	if err != nil {
		return v, err
	}
	if v.Product == "" {
		return v, errors.New("missing product")
	}
	return v, nil
}

func (GetVersion) sealed() {}

// GetTargets lists pages, workers and other debuggable targets.
type GetTargets struct{}

// Target describes one debuggable target.
type Target struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Attached bool   `json:"attached"`
}

func (GetTargets) Method() string { return "Target.getTargets" }

func (GetTargets) Params() any { return nil }

func (GetTargets) Decode(raw json.RawMessage) ([]Target, error) {
	r, err := decodeInto[struct {
		TargetInfos *[]Target `json:"targetInfos"`
	}](raw)
	if err != nil {
		return nil, err
	}
	if r.TargetInfos == nil {
		return nil, errors.New("missing targetInfos")
	}
	return *r.TargetInfos, nil
}

func (GetTargets) sealed() {}

// EnableDomain turns on event reporting for a protocol domain such as "Page"
// or "Network".
type EnableDomain struct {
	Domain string
}

func (c EnableDomain) Method() string { return c.Domain + ".enable" }

func (EnableDomain) Params() any { return nil }

func (EnableDomain) Decode(raw json.RawMessage) (Empty, error) { return decodeEmpty(raw) }

func (EnableDomain) sealed() {}

// Compile-time checks that every command is a Command.
var (
	_ Command[NavigateResult] = Navigate{}
	_ Command[Empty]          = Reload{}
	_ Command[EvaluateResult] = Evaluate{}
	_ Command[bool]           = Click{}
	_ Command[bool]           = TypeText{}
	_ Command[string]         = GetDocumentTitle{}
	_ Command[Screenshot]     = CaptureScreenshot{}
	_ Command[Version]        = GetVersion{}
	_ Command[[]Target]       = GetTargets{}
	_ Command[Empty]          = EnableDomain{}
)
