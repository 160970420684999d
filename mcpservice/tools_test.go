package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ggoodman/browser-bridge-go/mcp"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo back"`
	Repeat  int    `json:"repeat,omitempty" jsonschema:"minimum=1,maximum=5"`
}

func echoTool(opts ...ToolOption) StaticTool {
	return NewTool[echoArgs]("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		n := max(r.Args().Repeat, 1)
		return w.AppendText(strings.Repeat(r.Args().Message, n))
	}, opts...)
}

func call(t *testing.T, c *ToolsContainer, name, args string) *mcp.CallToolResult {
	t.Helper()
	res, err := c.Call(context.Background(), &mcp.CallToolRequestReceived{Name: name, Arguments: json.RawMessage(args)})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return res
}

func TestNewToolReflectsSchema(t *testing.T) {
	tool := echoTool(WithToolDescription("echo tool"), WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}))

	d := tool.Descriptor
	if d.Name != "echo" || d.Description != "echo tool" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if d.Annotations == nil || !d.Annotations.ReadOnlyHint {
		t.Fatalf("expected readOnly annotation")
	}
	s := d.InputSchema
	if s.Type != "object" || s.AdditionalProperties {
		t.Fatalf("expected strict object schema, got %+v", s)
	}
	msg, ok := s.Properties["message"]
	if !ok || msg.Type != "string" || msg.Description != "Text to echo back" {
		t.Fatalf("unexpected message property: %+v", msg)
	}
	rep := s.Properties["repeat"]
	if rep.Type != "integer" || rep.Minimum == nil || *rep.Minimum != 1 || rep.Maximum == nil || *rep.Maximum != 5 {
		t.Fatalf("unexpected repeat property: %+v", rep)
	}
	if len(s.Required) != 1 || s.Required[0] != "message" {
		t.Fatalf("expected only message required, got %v", s.Required)
	}
}

func TestNewToolDecodesArguments(t *testing.T) {
	c := NewToolsContainer(echoTool())

	res := call(t, c, "echo", `{"message":"ab","repeat":2}`)
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "abab" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNewToolRejectsUnknownFields(t *testing.T) {
	c := NewToolsContainer(echoTool())

	res := call(t, c, "echo", `{"message":"x","colour":"red"}`)
	if !res.IsError {
		t.Fatalf("expected error result, got %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "invalid arguments") {
		t.Fatalf("unexpected error text %q", res.Content[0].Text)
	}
}

func TestNewToolAllowsUnknownFieldsWhenConfigured(t *testing.T) {
	c := NewToolsContainer(echoTool(WithToolAllowAdditionalProperties(true)))

	res := call(t, c, "echo", `{"message":"x","colour":"red"}`)
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if !c.Snapshot()[0].InputSchema.AdditionalProperties {
		t.Fatalf("expected additionalProperties in schema")
	}
}

func TestNewToolRequiresFields(t *testing.T) {
	c := NewToolsContainer(echoTool())

	for _, args := range []string{``, `{}`, `{"repeat":2}`} {
		res := call(t, c, "echo", args)
		if !res.IsError || !strings.Contains(res.Content[0].Text, `"message"`) {
			t.Fatalf("args %q: expected missing field error, got %+v", args, res)
		}
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	tool := NewTool[struct{}]("fail", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		return boom
	})
	c := NewToolsContainer(tool)

	_, err := c.Call(context.Background(), &mcp.CallToolRequestReceived{Name: "fail"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestCallUnknownTool(t *testing.T) {
	c := NewToolsContainer()
	_, err := c.Call(context.Background(), &mcp.CallToolRequestReceived{Name: "nope"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestListToolsPaginates(t *testing.T) {
	c := NewToolsContainer()
	for _, name := range []string{"a", "b", "c"} {
		if !c.Add(NewTool[struct{}](name, func(context.Context, ToolResponseWriter, *ToolRequest[struct{}]) error { return nil })) {
			t.Fatalf("add %s failed", name)
		}
	}
	if c.Add(NewTool[struct{}]("a", nil)) {
		t.Fatalf("duplicate add should fail")
	}
	c.SetPageSize(2)

	page, err := c.ListTools(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Tools) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	page, err = c.ListTools(context.Background(), page.NextCursor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Tools) != 1 || page.Tools[0].Name != "c" || page.NextCursor != "" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	if _, err := c.ListTools(context.Background(), "zzz"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestWriterStructuredAndImage(t *testing.T) {
	type out struct {
		Title string `json:"title"`
	}
	tool := NewTool[struct{}]("shot", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		if err := w.SetStructured(out{Title: "Example"}); err != nil {
			return err
		}
		w.SetMeta("source", "test")
		return w.AppendImage([]byte{1, 2, 3}, "image/png")
	})
	res := call(t, NewToolsContainer(tool), "shot", `{}`)

	if res.StructuredContent["title"] != "Example" {
		t.Fatalf("unexpected structured content: %+v", res.StructuredContent)
	}
	if len(res.Content) != 2 {
		t.Fatalf("expected text and image blocks, got %+v", res.Content)
	}
	if res.Content[1].Type != mcp.ContentTypeImage || res.Content[1].Data != "AQID" || res.Content[1].MimeType != "image/png" {
		t.Fatalf("unexpected image block: %+v", res.Content[1])
	}
	if res.Meta["source"] != "test" {
		t.Fatalf("expected meta, got %+v", res.Meta)
	}
}

func TestWriterFinalized(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	_ = w.AppendText("a")
	first := w.Result()
	if err := w.AppendText("b"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if err := w.SetStructured(map[string]int{"n": 1}); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if len(w.Result().Content) != len(first.Content) {
		t.Fatalf("result changed after finalize")
	}
}

func TestWriterHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newToolResponseWriter(ctx)
	if err := w.AppendText("a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
