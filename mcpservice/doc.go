// Package mcpservice builds agent-facing tools.
//
// A tool is a typed argument struct plus a handler. NewTool reflects the
// struct into an input schema with invopop/jsonschema, decodes incoming
// arguments strictly (unknown fields are rejected unless allowed) and hands
// the handler a ToolResponseWriter to compose its result:
//
//	type navigateArgs struct {
//		URL string `json:"url" jsonschema:"description=Address to load"`
//	}
//
//	tool := mcpservice.NewTool[navigateArgs]("browser_navigate",
//		func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[navigateArgs]) error {
//			return w.AppendText("loaded " + r.Args().URL)
//		},
//		mcpservice.WithToolDescription("Load a URL in the current page."),
//	)
//
// ToolsContainer holds a set of tools, lists them with cursor pagination and
// dispatches calls by name.
//
// Handler errors versus tool errors: a handler that returns an error fails
// the JSON-RPC request. A handler that wants the agent to see a failure it
// can reason about calls SetError(true) and writes an explanation instead.
package mcpservice
