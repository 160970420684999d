package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ggoodman/browser-bridge-go/mcp"
)

// ErrToolNotFound is returned by Call for an unknown tool name.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidCursor is returned by ListTools for a cursor it did not issue.
var ErrInvalidCursor = errors.New("invalid cursor")

// DefaultPageSize is the ListTools page size.
const DefaultPageSize = 50

// ToolsContainer owns a threadsafe set of tool descriptors and handlers.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool             // descriptors for listing
	handlers map[string]ToolHandler // name -> handler

	pageSize int
}

// NewToolsContainer constructs a new ToolsContainer with the given tool definitions.
// On duplicate names the last definition wins.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	st := &ToolsContainer{
		handlers: make(map[string]ToolHandler, len(defs)),
		pageSize: DefaultPageSize,
	}
	for _, d := range defs {
		st.put(d)
	}
	return st
}

func (st *ToolsContainer) put(d StaticTool) {
	name := d.Descriptor.Name
	for i, t := range st.tools {
		if t.Name == name {
			st.tools[i] = d.Descriptor
			st.handlers[name] = d.Handler
			return
		}
	}
	st.tools = append(st.tools, d.Descriptor)
	st.handlers[name] = d.Handler
}

// SetPageSize sets the pagination size used by ListTools.
// A non-positive value is ignored.
func (st *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	st.mu.Lock()
	st.pageSize = n
	st.mu.Unlock()
}

// Add registers a new tool if it doesn't duplicate an existing name.
// Returns true if added.
func (st *ToolsContainer) Add(def StaticTool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.handlers[def.Descriptor.Name]; exists {
		return false
	}
	st.put(def)
	return true
}

// Snapshot returns a copy of the current tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// ListTools returns one page of tools starting at cursor. An empty cursor
// starts at the beginning; NextCursor is set when more tools remain.
func (st *ToolsContainer) ListTools(_ context.Context, cursor string) (*mcp.ListToolsResult, error) {
	st.mu.RLock()
	all := make([]mcp.Tool, len(st.tools))
	copy(all, st.tools)
	pageSize := st.pageSize
	st.mu.RUnlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(all) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		start = n
	}
	end := min(start+pageSize, len(all))

	res := &mcp.ListToolsResult{Tools: all[start:end]}
	if end < len(all) {
		res.NextCursor = strconv.Itoa(end)
	}
	return res, nil
}

// Call dispatches a request to the named tool.
func (st *ToolsContainer) Call(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	st.mu.RLock()
	h := st.handlers[req.Name]
	st.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, req)
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(s)}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(msg)}, IsError: true}
}
