// Package stdio serves agent tools over stdin/stdout.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 agent
//	Framing          : newline-delimited JSON-RPC 2.0
//	Concurrency      : tool calls run concurrently; responses are written
//	                   whole, one per line, in completion order
//	Cancellation     : notifications/cancelled cancels the call's context and
//	                   suppresses its response
//
// Example:
//
//	tools := mcpservice.NewToolsContainer(browsertools.New(eng)...)
//	h := stdio.NewHandler(tools,
//		stdio.WithServerInfo(mcp.ImplementationInfo{Name: "browser-bridge", Version: "0.1.0"}),
//	)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// Stdout carries only protocol messages; log to stderr.
package stdio
