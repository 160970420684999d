package browser

import (
	"context"
	"time"

	"github.com/ggoodman/browser-bridge-go/engine"
)

// DefaultPollInterval is how often WaitFor checks the page when no interval
// is given.
const DefaultPollInterval = 200 * time.Millisecond

// WaitFor polls until an element matches selector. It returns ctx.Err() if
// ctx ends first; bound the wait with a context deadline.
func WaitFor(ctx context.Context, c Caller, selector string, interval time.Duration, opts ...engine.CallOption) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		found, err := Do(ctx, c, ElementExists{Selector: selector}, opts...)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GoBack moves one entry back in the session history and returns the entry
// it moved to.
func GoBack(ctx context.Context, c Caller, opts ...engine.CallOption) (HistoryEntry, error) {
	return stepHistory(ctx, c, -1, opts...)
}

// GoForward moves one entry forward in the session history.
func GoForward(ctx context.Context, c Caller, opts ...engine.CallOption) (HistoryEntry, error) {
	return stepHistory(ctx, c, 1, opts...)
}

func stepHistory(ctx context.Context, c Caller, delta int, opts ...engine.CallOption) (HistoryEntry, error) {
	h, err := Do(ctx, c, GetNavigationHistory{}, opts...)
	if err != nil {
		return HistoryEntry{}, err
	}
	i := h.CurrentIndex + delta
	if i < 0 || i >= len(h.Entries) {
		return HistoryEntry{}, ErrNoHistoryEntry
	}
	entry := h.Entries[i]
	if _, err := Do(ctx, c, NavigateToHistoryEntry{EntryID: entry.ID}, opts...); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

type keyDef struct {
	key  string
	code string
	text string
	vk   int
}

var namedKeys = map[string]keyDef{
	"Enter":      {key: "Enter", code: "Enter", text: "\r", vk: 13},
	"Tab":        {key: "Tab", code: "Tab", vk: 9},
	"Escape":     {key: "Escape", code: "Escape", vk: 27},
	"Backspace":  {key: "Backspace", code: "Backspace", vk: 8},
	"Delete":     {key: "Delete", code: "Delete", vk: 46},
	"ArrowUp":    {key: "ArrowUp", code: "ArrowUp", vk: 38},
	"ArrowDown":  {key: "ArrowDown", code: "ArrowDown", vk: 40},
	"ArrowLeft":  {key: "ArrowLeft", code: "ArrowLeft", vk: 37},
	"ArrowRight": {key: "ArrowRight", code: "ArrowRight", vk: 39},
	"Home":       {key: "Home", code: "Home", vk: 36},
	"End":        {key: "End", code: "End", vk: 35},
	"PageUp":     {key: "PageUp", code: "PageUp", vk: 33},
	"PageDown":   {key: "PageDown", code: "PageDown", vk: 34},
	"Space":      {key: " ", code: "Space", text: " ", vk: 32},
}

// lookupKey resolves a key name. Unknown names pass through as both key and
// code with no virtual key code.
func lookupKey(name string) keyDef {
	if k, ok := namedKeys[name]; ok {
		return k
	}
	return keyDef{key: name, code: name}
}

// PressKey sends a key down and key up for the named key, e.g. "Enter" or
// "ArrowDown".
func PressKey(ctx context.Context, c Caller, key string, opts ...engine.CallOption) error {
	k := lookupKey(key)
	down := DispatchKeyEvent{
		Type:                  "keyDown",
		Key:                   k.key,
		Code:                  k.code,
		Text:                  k.text,
		WindowsVirtualKeyCode: k.vk,
		NativeVirtualKeyCode:  k.vk,
	}
	if _, err := Do(ctx, c, down, opts...); err != nil {
		return err
	}
	up := down
	up.Type = "keyUp"
	up.Text = ""
	_, err := Do(ctx, c, up, opts...)
	return err
}

// Hover moves the mouse over the center of the first element matching
// selector. found is false, with no mouse event sent, when nothing matches.
func Hover(ctx context.Context, c Caller, selector string, opts ...engine.CallOption) (p Point, found bool, err error) {
	center, err := Do(ctx, c, ElementCenter{Selector: selector}, opts...)
	if err != nil || center == nil {
		return Point{}, false, err
	}
	move := DispatchMouseEvent{Type: "mouseMoved", X: center.X, Y: center.Y, Button: ButtonNone}
	if _, err := Do(ctx, c, move, opts...); err != nil {
		return Point{}, true, err
	}
	return *center, true, nil
}
