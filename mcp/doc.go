// Package mcp contains the agent-facing protocol data types: method names,
// the initialize handshake, tool listing and tool calls. It carries no
// transport logic; the stdio package frames these types as JSON-RPC.
//
// # Method Names
//
// Method and notification names are enumerated as Method constants (e.g.
// ToolsListMethod) so handlers switch on a single source of truth.
//
// # Content
//
// Tool results are a list of ContentBlock values. Text and image blocks are
// the only kinds the bridge produces; use TextContent and ImageContent to
// build them.
package mcp
