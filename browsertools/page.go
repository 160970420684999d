package browsertools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/browser-bridge-go/browser"
	"github.com/ggoodman/browser-bridge-go/mcpservice"
)

// DefaultWaitTimeout bounds browser_wait_for when no timeout is given.
const DefaultWaitTimeout = 5 * time.Second

type readPageArgs struct {
	MaxChars int `json:"maxChars,omitempty" jsonschema:"minimum=1,description=Truncate the text to this many characters (default 10000)"`
}

func (t *toolset) readPage(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[readPageArgs]) error {
	ctx = toolContext(ctx, r.Name())
	maxChars := r.Args().MaxChars
	if maxChars < 0 {
		maxChars = 0
	}
	page, ok, err := do(ctx, t, w, browser.ReadPageText{MaxChars: maxChars})
	if !ok {
		return err
	}
	text := page.Text
	if page.Truncated {
		text += fmt.Sprintf("\n\n[truncated: showing %d of %d characters]", len([]rune(page.Text)), page.Length)
	}
	return w.AppendText(text)
}

type waitForArgs struct {
	Selector  string `json:"selector" jsonschema:"description=CSS selector"`
	TimeoutMs int    `json:"timeoutMs,omitempty" jsonschema:"minimum=1,maximum=60000,description=Give up after this many milliseconds (default 5000)"`
}

func (t *toolset) waitFor(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[waitForArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	if strings.TrimSpace(args.Selector) == "" {
		w.SetError(true)
		return w.AppendText("selector must not be empty")
	}
	timeout := DefaultWaitTimeout
	if args.TimeoutMs > 0 {
		timeout = time.Duration(args.TimeoutMs) * time.Millisecond
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := browser.WaitFor(waitCtx, t.c, args.Selector, browser.DefaultPollInterval, t.callOpts...)
	switch {
	case err == nil:
		return w.AppendText(fmt.Sprintf("found %s after %dms", args.Selector, time.Since(start).Milliseconds()))
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("timed out waiting for %s after %dms", args.Selector, timeout.Milliseconds()))
	default:
		return t.fail(ctx, w, "Runtime.evaluate", err)
	}
}

type scrollArgs struct {
	X float64 `json:"x,omitempty" jsonschema:"description=Horizontal pixels, negative scrolls left"`
	Y float64 `json:"y,omitempty" jsonschema:"description=Vertical pixels, negative scrolls up"`
}

func (t *toolset) scroll(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[scrollArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	pos, ok, err := do(ctx, t, w, browser.Scroll{X: args.X, Y: args.Y})
	if !ok {
		return err
	}
	return w.SetStructured(pos)
}

func (t *toolset) back(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
	ctx = toolContext(ctx, r.Name())
	entry, err := browser.GoBack(ctx, t.c, t.callOpts...)
	return t.historyResult(ctx, w, "back", entry, err)
}

func (t *toolset) forward(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
	ctx = toolContext(ctx, r.Name())
	entry, err := browser.GoForward(ctx, t.c, t.callOpts...)
	return t.historyResult(ctx, w, "forward", entry, err)
}

func (t *toolset) historyResult(ctx context.Context, w mcpservice.ToolResponseWriter, direction string, entry browser.HistoryEntry, err error) error {
	switch {
	case err == nil:
		return w.SetStructured(entry)
	case errors.Is(err, browser.ErrNoHistoryEntry):
		w.SetError(true)
		return w.AppendText("no history entry to go " + direction + " to")
	default:
		return t.fail(ctx, w, "Page.navigateToHistoryEntry", err)
	}
}

type selectOptionArgs struct {
	Selector string `json:"selector" jsonschema:"description=CSS selector of the <select> element"`
	Value    string `json:"value" jsonschema:"description=Value of the option to choose"`
}

func (t *toolset) selectOption(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[selectOptionArgs]) error {
	ctx = toolContext(ctx, r.Name())
	args := r.Args()
	status, ok, err := do(ctx, t, w, browser.SelectOption{Selector: args.Selector, Value: args.Value})
	if !ok {
		return err
	}
	return statusResult(w, status, args.Selector, fmt.Sprintf("selected %q in %s", args.Value, args.Selector))
}

type submitFormArgs struct {
	Selector string `json:"selector" jsonschema:"description=CSS selector of the form or an element inside it"`
}

func (t *toolset) submitForm(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[submitFormArgs]) error {
	ctx = toolContext(ctx, r.Name())
	sel := r.Args().Selector
	status, ok, err := do(ctx, t, w, browser.SubmitForm{Selector: sel})
	if !ok {
		return err
	}
	return statusResult(w, status, sel, "submitted form for "+sel)
}

func statusResult(w mcpservice.ToolResponseWriter, status browser.ElementStatus, selector, done string) error {
	var msg string
	switch status {
	case browser.StatusOK:
		return w.AppendText(done)
	case browser.StatusNotFound:
		msg = "no element matches " + selector
	case browser.StatusNotSelect:
		msg = selector + " is not a <select> element"
	case browser.StatusNoOption:
		msg = selector + " has no option with that value"
	case browser.StatusNoForm:
		msg = selector + " is not inside a form"
	default:
		msg = fmt.Sprintf("%s: %s", selector, status)
	}
	w.SetError(true)
	return w.AppendText(msg)
}

type pressKeyArgs struct {
	Key string `json:"key" jsonschema:"description=Key name such as Enter, Tab, Escape, ArrowDown or a single character"`
}

func (t *toolset) pressKey(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[pressKeyArgs]) error {
	ctx = toolContext(ctx, r.Name())
	key := r.Args().Key
	if key == "" {
		w.SetError(true)
		return w.AppendText("key must not be empty")
	}
	if err := browser.PressKey(ctx, t.c, key, t.callOpts...); err != nil {
		return t.fail(ctx, w, "Input.dispatchKeyEvent", err)
	}
	return w.AppendText("pressed " + key)
}

type hoverArgs struct {
	Selector string `json:"selector" jsonschema:"description=CSS selector"`
}

func (t *toolset) hover(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[hoverArgs]) error {
	ctx = toolContext(ctx, r.Name())
	sel := r.Args().Selector
	p, found, err := browser.Hover(ctx, t.c, sel, t.callOpts...)
	if err != nil {
		return t.fail(ctx, w, "Input.dispatchMouseEvent", err)
	}
	return foundResult(w, found, sel, fmt.Sprintf("hovering %s at (%g, %g)", sel, p.X, p.Y))
}

func (t *toolset) discoverWebMCPTools(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
	ctx = toolContext(ctx, r.Name())
	tools, ok, err := do(ctx, t, w, browser.DiscoverWebMCPTools{})
	if !ok {
		return err
	}
	return w.SetStructured(tools)
}
