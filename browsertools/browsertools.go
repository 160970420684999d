// Package browsertools exposes browser commands as agent tools.
package browsertools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ggoodman/browser-bridge-go/browser"
	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/ggoodman/browser-bridge-go/eventlog"
	"github.com/ggoodman/browser-bridge-go/internal/logctx"
	"github.com/ggoodman/browser-bridge-go/mcp"
	"github.com/ggoodman/browser-bridge-go/mcpservice"
)

// EventSource reads recorded browser events. *eventlog.Recorder implements it.
type EventSource interface {
	Recent(ctx context.Context, afterID string, limit int) ([]eventlog.Event, error)
}

// Option configures the tool set.
type Option func(*toolset)

// WithEvents adds the browser_events tool backed by src.
func WithEvents(src EventSource) Option {
	return func(t *toolset) { t.events = src }
}

// WithLogger sets the logger for tool failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *toolset) {
		if l != nil {
			t.log = l
		}
	}
}

// WithCallOptions applies engine call options, such as a timeout, to every
// browser call the tools make.
func WithCallOptions(opts ...engine.CallOption) Option {
	return func(t *toolset) { t.callOpts = append(t.callOpts, opts...) }
}

type toolset struct {
	c        browser.Caller
	events   EventSource
	log      *slog.Logger
	callOpts []engine.CallOption
}

// DefaultEventLimit caps browser_events results when no limit is given.
const DefaultEventLimit = 50

// New returns the browser tools backed by c.
func New(c browser.Caller, opts ...Option) []mcpservice.StaticTool {
	t := &toolset{c: c, log: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}

	readOnly := mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true})

	tools := []mcpservice.StaticTool{
		mcpservice.NewTool[navigateArgs]("browser_navigate", t.navigate,
			mcpservice.WithToolDescription("Load a URL in the current page."),
			mcpservice.WithToolAnnotations(mcp.ToolAnnotations{OpenWorldHint: true}),
		),
		mcpservice.NewTool[reloadArgs]("browser_reload", t.reload,
			mcpservice.WithToolDescription("Reload the current page."),
		),
		mcpservice.NewTool[evaluateArgs]("browser_evaluate", t.evaluate,
			mcpservice.WithToolDescription("Evaluate a JavaScript expression in the page and return its JSON value."),
		),
		mcpservice.NewTool[clickArgs]("browser_click", t.click,
			mcpservice.WithToolDescription("Click the first element matching a CSS selector."),
		),
		mcpservice.NewTool[typeArgs]("browser_type", t.typeText,
			mcpservice.WithToolDescription("Set the value of the first element matching a CSS selector."),
		),
		mcpservice.NewTool[screenshotArgs]("browser_screenshot", t.screenshot,
			mcpservice.WithToolDescription("Capture the current page as an image."),
			readOnly,
		),
		mcpservice.NewTool[readPageArgs]("browser_read_page", t.readPage,
			mcpservice.WithToolDescription("Read the visible text of the current page."),
			readOnly,
		),
		mcpservice.NewTool[waitForArgs]("browser_wait_for", t.waitFor,
			mcpservice.WithToolDescription("Wait until an element matching a CSS selector appears."),
			readOnly,
		),
		mcpservice.NewTool[scrollArgs]("browser_scroll", t.scroll,
			mcpservice.WithToolDescription("Scroll the page by a number of pixels."),
		),
		mcpservice.NewTool[struct{}]("browser_back", t.back,
			mcpservice.WithToolDescription("Go back one entry in the page history."),
		),
		mcpservice.NewTool[struct{}]("browser_forward", t.forward,
			mcpservice.WithToolDescription("Go forward one entry in the page history."),
		),
		mcpservice.NewTool[selectOptionArgs]("browser_select_option", t.selectOption,
			mcpservice.WithToolDescription("Choose an option by value in a <select> element."),
		),
		mcpservice.NewTool[submitFormArgs]("browser_submit_form", t.submitForm,
			mcpservice.WithToolDescription("Submit a form, or the form containing the matched element."),
		),
		mcpservice.NewTool[pressKeyArgs]("browser_press_key", t.pressKey,
			mcpservice.WithToolDescription("Press a key such as Enter, Tab, Escape or ArrowDown."),
		),
		mcpservice.NewTool[hoverArgs]("browser_hover", t.hover,
			mcpservice.WithToolDescription("Move the mouse over the first element matching a CSS selector."),
		),
		mcpservice.NewTool[struct{}]("browser_discover_webmcp_tools", t.discoverWebMCPTools,
			mcpservice.WithToolDescription("List tools the page declares through navigator.modelContext."),
			readOnly,
		),
		mcpservice.NewTool[struct{}]("browser_title", t.title,
			mcpservice.WithToolDescription("Read the current document title."),
			readOnly,
		),
		mcpservice.NewTool[struct{}]("browser_version", t.version,
			mcpservice.WithToolDescription("Report the browser product and protocol version."),
			readOnly,
		),
		mcpservice.NewTool[struct{}]("browser_targets", t.targets,
			mcpservice.WithToolDescription("List open pages and other debuggable targets."),
			readOnly,
		),
	}
	if t.events != nil {
		tools = append(tools, mcpservice.NewTool[eventsArgs]("browser_events", t.recentEvents,
			mcpservice.WithToolDescription("List browser events recorded since a previous event id."),
			readOnly,
		))
	}
	return tools
}

// do runs cmd and reports whether the tool should continue. Browser outcomes
// the agent can act on become error results; anything else is returned.
func do[R any](ctx context.Context, t *toolset, w mcpservice.ToolResponseWriter, cmd browser.Command[R]) (R, bool, error) {
	out, err := browser.Do(ctx, t.c, cmd, t.callOpts...)
	if err == nil {
		return out, true, nil
	}
	return out, false, t.fail(ctx, w, cmd.Method(), err)
}

// fail turns a failed browser call into an error result when the agent can
// act on it, and returns err otherwise.
func (t *toolset) fail(ctx context.Context, w mcpservice.ToolResponseWriter, op string, err error) error {
	msg, ok := describe(err)
	if !ok {
		return err
	}
	t.log.WarnContext(ctx, "browser.call.fail", slog.String("method", op), slog.String("err", err.Error()))
	w.SetError(true)
	return w.AppendText(msg)
}

// describe renders engine outcomes for the agent. It reports false for
// errors that should fail the request instead, such as cancellation.
func describe(err error) (string, bool) {
	var (
		remote *engine.RemoteError
		decode *browser.DecodeError
	)
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return "browser call timed out: " + err.Error(), true
	case errors.Is(err, engine.ErrConnectionLost):
		return "browser connection lost: " + err.Error(), true
	case errors.As(err, &remote):
		return fmt.Sprintf("browser error %d: %s", remote.Code, remote.Message), true
	case errors.As(err, &decode):
		return "unexpected browser reply: " + err.Error(), true
	default:
		return "", false
	}
}

func toolContext(ctx context.Context, name string) context.Context {
	return logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})
}

type navigateArgs struct {
	URL      string `json:"url" jsonschema:"description=Absolute URL to load"`
	Referrer string `json:"referrer,omitempty" jsonschema:"description=Referrer URL"`
}

func (t *toolset) navigate(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[navigateArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	if strings.TrimSpace(args.URL) == "" {
		w.SetError(true)
		return w.AppendText("url must not be empty")
	}
	res, ok, err := do(ctx, t, w, browser.Navigate{URL: args.URL, Referrer: args.Referrer})
	if !ok {
		return err
	}
	if res.ErrorText != "" {
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("navigation to %s failed: %s", args.URL, res.ErrorText))
	}
	return w.SetStructured(res)
}

type reloadArgs struct {
	IgnoreCache bool `json:"ignoreCache,omitempty" jsonschema:"description=Bypass the cache"`
}

func (t *toolset) reload(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[reloadArgs]) error {
	ctx = toolContext(ctx, r.Name())
	if _, ok, err := do(ctx, t, w, browser.Reload{IgnoreCache: r.Args().IgnoreCache}); !ok {
		return err
	}
	return w.AppendText("reloaded")
}

type evaluateArgs struct {
	Expression   string `json:"expression" jsonschema:"description=JavaScript expression"`
	AwaitPromise bool   `json:"awaitPromise,omitempty" jsonschema:"description=Wait for a returned promise to settle"`
}

func (t *toolset) evaluate(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[evaluateArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	res, ok, err := do(ctx, t, w, browser.Evaluate{Expression: args.Expression, AwaitPromise: args.AwaitPromise})
	if !ok {
		return err
	}
	if res.Exception != "" {
		w.SetError(true)
		return w.AppendText("script threw: " + res.Exception)
	}
	switch {
	case len(res.Value) > 0:
		return w.AppendText(string(res.Value))
	case res.Description != "":
		return w.AppendText(res.Description)
	default:
		return w.AppendText(res.Type)
	}
}

type clickArgs struct {
	Selector string `json:"selector" jsonschema:"description=CSS selector"`
}

func (t *toolset) click(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[clickArgs]) error {
	ctx = toolContext(ctx, r.Name())
	sel := r.Args().Selector
	found, ok, err := do(ctx, t, w, browser.Click{Selector: sel})
	if !ok {
		return err
	}
	return foundResult(w, found, sel, "clicked "+sel)
}

type typeArgs struct {
	Selector string `json:"selector" jsonschema:"description=CSS selector"`
	Text     string `json:"text" jsonschema:"description=Value to enter"`
}

func (t *toolset) typeText(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[typeArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	found, ok, err := do(ctx, t, w, browser.TypeText{Selector: args.Selector, Text: args.Text})
	if !ok {
		return err
	}
	return foundResult(w, found, args.Selector, "typed into "+args.Selector)
}

func foundResult(w mcpservice.ToolResponseWriter, found bool, selector, done string) error {
	if !found {
		w.SetError(true)
		return w.AppendText("no element matches " + selector)
	}
	return w.AppendText(done)
}

type screenshotArgs struct {
	Format   string `json:"format,omitempty" jsonschema:"enum=png,enum=jpeg,enum=webp,description=Image format (default png)"`
	Quality  int    `json:"quality,omitempty" jsonschema:"minimum=0,maximum=100,description=Compression quality for jpeg and webp"`
	FullPage bool   `json:"fullPage,omitempty" jsonschema:"description=Capture beyond the viewport"`
}

func (t *toolset) screenshot(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[screenshotArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	format := browser.ImageFormat(args.Format)
	switch format {
	case "", browser.FormatPNG, browser.FormatJPEG, browser.FormatWebP:
	default:
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("unsupported format %q", args.Format))
	}
	shot, ok, err := do(ctx, t, w, browser.CaptureScreenshot{Format: format, Quality: args.Quality, FullPage: args.FullPage})
	if !ok {
		return err
	}
	return w.AppendImage(shot.Data, shot.MimeType())
}

func (t *toolset) title(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
	ctx = toolContext(ctx, r.Name())
	title, ok, err := do(ctx, t, w, browser.GetDocumentTitle{})
	if !ok {
		return err
	}
	return w.AppendText(title)
}

func (t *toolset) version(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
	ctx = toolContext(ctx, r.Name())
	v, ok, err := do(ctx, t, w, browser.GetVersion{})
	if !ok {
		return err
	}
	return w.SetStructured(v)
}

func (t *toolset) targets(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
	ctx = toolContext(ctx, r.Name())
	targets, ok, err := do(ctx, t, w, browser.GetTargets{})
	if !ok {
		return err
	}
	return w.SetStructured(map[string]any{"targets": targets})
}

type eventsArgs struct {
	After  string `json:"after,omitempty" jsonschema:"description=Return events recorded after this id"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=500,description=Maximum number of events"`
	Method string `json:"method,omitempty" jsonschema:"description=Only events with this method"`
}

type eventView struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Time      string          `json:"time"`
}

func (t *toolset) recentEvents(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[eventsArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	limit := args.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	events, err := t.events.Recent(ctx, args.After, limit)
	if err != nil {
		if errors.Is(err, eventlog.ErrInvalidID) {
			w.SetError(true)
			return w.AppendText(err.Error())
		}
		return fmt.Errorf("read events: %w", err)
	}

	out := make([]eventView, 0, len(events))
	last := args.After
	for _, ev := range events {
		last = ev.ID
		if args.Method != "" && ev.Method != args.Method {
			continue
		}
		out = append(out, eventView{
			ID:        ev.ID,
			Method:    ev.Method,
			Params:    ev.Params,
			SessionID: ev.SessionID,
			Time:      ev.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return w.SetStructured(map[string]any{"events": out, "next": last})
}
