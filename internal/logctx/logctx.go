// Package logctx carries request-scoped attributes through a context and
// attaches them to every slog record logged with that context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the agent RPC message, tool and browser call
// found in the record's context.
type Handler struct {
	slog.Handler
}

// Handle implements slog.Handler.
func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData); ok {
		r.AddAttrs(slog.Group("tool",
			slog.String("name", td.ToolName),
		))
	}

	if cd, ok := ctx.Value(callDataKey{}).(*CallData); ok {
		attrs := []any{
			slog.Int64("id", cd.ID),
			slog.String("method", cd.Method),
		}
		if cd.SessionID != "" {
			attrs = append(attrs, slog.String("session_id", cd.SessionID))
		}
		r.AddAttrs(slog.Group("call", attrs...))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the decorator when attributes are bound.
func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the decorator when a group is opened.
func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsg struct{}

// RPCMessage identifies the agent-side JSON-RPC message being handled.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type toolCallDataKey struct{}

type ToolCallData struct {
	ToolName string
}

func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolCallDataKey{}, data)
}

type callDataKey struct{}

// CallData identifies an in-flight browser call.
type CallData struct {
	ID        int64
	Method    string
	SessionID string
}

func WithCallData(ctx context.Context, data *CallData) context.Context {
	return context.WithValue(ctx, callDataKey{}, data)
}
