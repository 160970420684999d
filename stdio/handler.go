package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/browser-bridge-go/engine"
	"github.com/ggoodman/browser-bridge-go/internal/jsonrpc"
	"github.com/ggoodman/browser-bridge-go/internal/logctx"
	"github.com/ggoodman/browser-bridge-go/mcp"
	"github.com/ggoodman/browser-bridge-go/mcpservice"
)

// ToolProvider lists and runs tools. *mcpservice.ToolsContainer implements it.
type ToolProvider interface {
	ListTools(ctx context.Context, cursor string) (*mcp.ListToolsResult, error)
	Call(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
type Handler struct {
	tools        ToolProvider
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	info         mcp.ImplementationInfo
	instructions string

	writeMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	inflight    map[string]context.CancelFunc
	cancelled   map[string]struct{}
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(tools ToolProvider, opts ...Option) *Handler {
	h := &Handler{
		tools:     tools,
		r:         os.Stdin,
		w:         os.Stdout,
		l:         slog.Default(),
		info:      mcp.ImplementationInfo{Name: "browser-bridge", Version: "dev"},
		inflight:  make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the event loop until EOF on the reader or ctx is canceled. It
// waits for in-flight tool calls to finish before returning; on EOF those
// calls are canceled first. Serve returns nil on EOF.
func (h *Handler) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReader(h.r)
		for {
			line, err := br.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	// Runs before wg.Wait so in-flight calls observe cancellation.
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.l.InfoContext(ctx, "stdio.eof")
				return nil
			}
			return fmt.Errorf("read stdin: %w", err)
		case line := <-lines:
			h.handleLine(ctx, line, &wg)
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, line []byte, wg *sync.WaitGroup) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		if !json.Valid(bytes.TrimSpace(line)) {
			h.writeError(ctx, nil, jsonrpc.ErrorCodeParseError, "parse error", nil)
			return
		}
		h.writeError(ctx, salvageID(line), jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil)
		return
	}

	switch msg.Type() {
	case "response":
		// The bridge sends no requests, so there is nothing to correlate.
		h.l.DebugContext(ctx, "stdio.response.ignored", slog.String("id", msg.ID.String()))
	case "notification":
		h.handleNotification(ctx, msg.AsRequest())
	case "request":
		req := msg.AsRequest()
		rctx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
			Method: req.Method,
			ID:     req.ID.String(),
			Type:   "request",
		})
		h.handleRequest(rctx, req, wg)
	}
}

func (h *Handler) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		h.l.DebugContext(ctx, "stdio.initialized")
	case mcp.CancelledNotificationMethod:
		var n mcp.CancelledNotification
		if err := json.Unmarshal(req.Params, &n); err != nil {
			h.l.WarnContext(ctx, "stdio.cancelled.invalid", slog.String("err", err.Error()))
			return
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(n.RequestID, &id); err != nil || id.IsNil() {
			h.l.WarnContext(ctx, "stdio.cancelled.invalid", slog.String("request_id", string(n.RequestID)))
			return
		}
		h.cancel(ctx, &id, n.Reason)
	default:
		h.l.DebugContext(ctx, "stdio.notification.ignored", slog.String("method", req.Method))
	}
}

func (h *Handler) cancel(ctx context.Context, id *jsonrpc.RequestID, reason string) {
	h.mu.Lock()
	cancel, ok := h.inflight[id.Key()]
	if ok {
		h.cancelled[id.Key()] = struct{}{}
	}
	h.mu.Unlock()
	if !ok {
		// Already finished, or never existed.
		return
	}
	h.l.InfoContext(ctx, "stdio.request.cancelled", slog.String("id", id.String()), slog.String("reason", reason))
	cancel()
}

func (h *Handler) handleRequest(ctx context.Context, req *jsonrpc.Request, wg *sync.WaitGroup) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		h.initialize(ctx, req)
	case mcp.PingMethod:
		h.writeResult(ctx, req.ID, mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		if !h.requireInitialized(ctx, req) {
			return
		}
		var params mcp.ListToolsRequest
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				h.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", err.Error())
				return
			}
		}
		res, err := h.tools.ListTools(ctx, params.Cursor)
		if err != nil {
			code := jsonrpc.ErrorCodeInternalError
			if errors.Is(err, mcpservice.ErrInvalidCursor) {
				code = jsonrpc.ErrorCodeInvalidParams
			}
			h.writeError(ctx, req.ID, code, err.Error(), nil)
			return
		}
		h.writeResult(ctx, req.ID, res)
	case mcp.ToolsCallMethod:
		if !h.requireInitialized(ctx, req) {
			return
		}
		var params mcp.CallToolRequestReceived
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			h.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: tool name is required", nil)
			return
		}
		h.startCall(ctx, req.ID, &params, wg)
	default:
		h.writeError(ctx, req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

func (h *Handler) initialize(ctx context.Context, req *jsonrpc.Request) {
	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", err.Error())
		return
	}

	version := params.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		version = mcp.LatestProtocolVersion
	}

	h.mu.Lock()
	h.initialized = true
	h.mu.Unlock()

	h.l.InfoContext(ctx, "stdio.initialize",
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("protocol_version", version),
	)

	h.writeResult(ctx, req.ID, mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}},
		ServerInfo:      h.info,
		Instructions:    h.instructions,
	})
}

func (h *Handler) requireInitialized(ctx context.Context, req *jsonrpc.Request) bool {
	h.mu.Lock()
	ok := h.initialized
	h.mu.Unlock()
	if !ok {
		h.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidRequest, "server not initialized", nil)
	}
	return ok
}

func (h *Handler) startCall(ctx context.Context, id *jsonrpc.RequestID, params *mcp.CallToolRequestReceived, wg *sync.WaitGroup) {
	key := id.Key()
	cctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if _, dup := h.inflight[key]; dup {
		h.mu.Unlock()
		cancel()
		h.writeError(ctx, id, jsonrpc.ErrorCodeInvalidRequest, "duplicate request id", nil)
		return
	}
	h.inflight[key] = cancel
	h.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		cctx = logctx.WithToolCallData(cctx, &logctx.ToolCallData{ToolName: params.Name})
		res, err := h.tools.Call(cctx, params)

		h.mu.Lock()
		delete(h.inflight, key)
		_, wasCancelled := h.cancelled[key]
		delete(h.cancelled, key)
		h.mu.Unlock()

		if wasCancelled {
			// The agent asked us to stop; it expects no response.
			return
		}
		if err != nil {
			code, data := errorCode(err)
			h.l.WarnContext(cctx, "stdio.tool.fail", slog.String("err", err.Error()))
			h.writeError(ctx, id, code, err.Error(), data)
			return
		}
		h.writeResult(ctx, id, res)
	}()
}

// errorCode maps a tool failure onto a JSON-RPC error code and data.
func errorCode(err error) (jsonrpc.ErrorCode, any) {
	var remote *engine.RemoteError
	switch {
	case errors.Is(err, mcpservice.ErrToolNotFound):
		return jsonrpc.ErrorCodeInvalidParams, nil
	case errors.Is(err, engine.ErrTimeout):
		return jsonrpc.ErrorCodeBrowserTimeout, nil
	case errors.Is(err, engine.ErrConnectionLost):
		return jsonrpc.ErrorCodeConnectionLost, nil
	case errors.As(err, &remote):
		return jsonrpc.ErrorCodeBrowserError, map[string]any{"code": remote.Code, "message": remote.Message}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.ErrorCodeRequestCancelled, nil
	default:
		return jsonrpc.ErrorCodeInternalError, nil
	}
}

// salvageID extracts an id from a structurally invalid message so the error
// can still be correlated.
func salvageID(line []byte) *jsonrpc.RequestID {
	var head struct {
		ID *jsonrpc.RequestID `json:"id"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil
	}
	return head.ID
}

func (h *Handler) writeResult(ctx context.Context, id *jsonrpc.RequestID, result any) {
	res, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		h.writeError(ctx, id, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
		return
	}
	h.write(ctx, res)
}

func (h *Handler) writeError(ctx context.Context, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, message string, data any) {
	h.write(ctx, jsonrpc.NewErrorResponse(id, code, message, data))
}

func (h *Handler) write(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.write.marshal", slog.String("err", err.Error()))
		return
	}
	b = append(b, '\n')

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}
