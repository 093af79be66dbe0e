// Package examplepeer is a small stdio MCP peer. It answers the handshake,
// tools/list and tools/call for a fixed set of tools, and is what the hub's
// tests and the peer command run.
package examplepeer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mcphub/internal/jsonrpc"
	"mcphub/internal/logger"
	"mcphub/internal/mcpconst"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sourcegraph/jsonrpc2"
)

const (
	ServerName    = "mcphub-example-peer"
	ServerVersion = "0.1.0"
)

type Option func(*peer)

// WithNotify sends a notifications/message before every response.
func WithNotify(on bool) Option {
	return func(p *peer) { p.notify = on }
}

// WithLineDelimited writes one JSON document per line instead of
// Content-Length framing.
func WithLineDelimited(on bool) Option {
	return func(p *peer) { p.lineDelimited = on }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *peer) { p.log = l }
}

type peer struct {
	notify        bool
	lineDelimited bool
	log           *slog.Logger
}

// Serve answers requests read from r on w until r ends or ctx is done.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts ...Option) error {
	p := &peer{}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.WithComponent("examplepeer")
	}

	var codec jsonrpc2.ObjectCodec = peerCodec{}
	if p.lineDelimited {
		codec = lineCodec{}
	}
	stream := jsonrpc2.NewBufferedStream(&stdio{r: r, w: w}, codec)
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(p.handle),
		jsonrpc2.SetLogger(slog.NewLogLogger(p.log.Handler(), slog.LevelWarn)),
	)
	p.log.Debug("peer serving", "notify", p.notify, "lineDelimited", p.lineDelimited)

	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

func (p *peer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	method := mcpconst.JsonRpcMethod(req.Method)
	if req.Notif {
		p.log.Debug("notification", "method", method)
		return nil, nil
	}

	if p.notify {
		err := conn.Notify(ctx, string(mcpconst.NotificationsMessage), map[string]any{
			"level": "info",
			"data":  fmt.Sprintf("handling %s", method),
		})
		if err != nil {
			return nil, err
		}
	}

	switch method {
	case mcpconst.Initialize:
		return p.initialize(req)
	case mcpconst.Ping:
		return struct{}{}, nil
	case mcpconst.ToolsList:
		return mcp.ListToolsResult{Tools: tools()}, nil
	case mcpconst.ToolsCall:
		return p.callTool(req)
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"}
	}
}

func (p *peer) initialize(req *jsonrpc2.Request) (any, error) {
	var params mcp.InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
	}
	version := params.ProtocolVersion
	if version == "" {
		version = mcpconst.ProtocolVersion
	}
	p.log.Debug("initialize", "client", params.ClientInfo.Name, "protocolVersion", version)

	return mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{},
		},
		ServerInfo: mcp.Implementation{Name: ServerName, Version: ServerVersion},
	}, nil
}

func (p *peer) callTool(req *jsonrpc2.Request) (any, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}

	handler, ok := lookupTool(params.Name)
	if !ok {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: fmt.Sprintf("unknown tool %q", params.Name)}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	return handler(params.Arguments)
}

// stdio joins a reader and writer into the ReadWriteCloser jsonrpc2 wants.
type stdio struct {
	r io.Reader
	w io.Writer
}

func (s *stdio) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdio) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *stdio) Close() error {
	var errs []error
	if c, ok := s.r.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.w.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// peerCodec reports end of input as io.EOF so the connection closes quietly.
type peerCodec struct {
	jsonrpc.Codec
}

func (c peerCodec) ReadObject(stream *bufio.Reader, v any) error {
	err := c.Codec.ReadObject(stream, v)
	if errors.Is(err, jsonrpc.ErrConnectionClosed) {
		return io.EOF
	}
	return err
}

// lineCodec reads either framing and writes newline-delimited JSON.
type lineCodec struct {
	peerCodec
}

func (lineCodec) WriteObject(stream io.Writer, v any) error {
	return jsonrpc2.PlainObjectCodec{}.WriteObject(stream, v)
}
