// Package session speaks the JSON-RPC handshake and request/response
// correlation with one peer over a byte-stream pair.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"mcphub/internal/jsonrpc"
	"mcphub/internal/logger"
	"mcphub/internal/mcpconst"

	"github.com/mark3labs/mcp-go/mcp"
)

var alreadyInitialized = json.RawMessage(`{"already_initialized":true}`)

// Option configures a Session.
type Option func(*Session)

// WithClientInfo overrides the client identity sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(s *Session) {
		s.clientInfo = mcp.Implementation{Name: name, Version: version}
	}
}

// WithProtocolVersion overrides the protocol version sent in initialize.
func WithProtocolVersion(v string) Option {
	return func(s *Session) { s.protocolVersion = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithCodec(c jsonrpc.Codec) Option {
	return func(s *Session) { s.codec = c }
}

// Session owns the reader and writer of one peer. Requests are serialized:
// the read lock is held from the write of a request until its response
// arrives, so at most one request is in flight.
type Session struct {
	r     *bufio.Reader
	w     io.Writer
	codec jsonrpc.Codec
	log   *slog.Logger

	clientInfo      mcp.Implementation
	protocolVersion string

	writeMu sync.Mutex
	readMu  sync.Mutex
	initMu  sync.Mutex

	lastID      atomic.Uint64
	initialized atomic.Bool

	stateMu    sync.Mutex
	failure    error
	serverInfo *mcp.InitializeResult
}

// New wraps a peer's output (r) and input (w).
func New(r io.Reader, w io.Writer, opts ...Option) *Session {
	s := &Session{
		r: bufio.NewReader(r),
		w: w,
		clientInfo: mcp.Implementation{
			Name:    mcpconst.ClientName,
			Version: mcpconst.ClientVersion,
		},
		protocolVersion: mcpconst.ProtocolVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithComponent("session")
	}
	return s
}

// Initialize performs the handshake once. Later calls return
// {"already_initialized":true} without touching the transport.
func (s *Session) Initialize(ctx context.Context) (json.RawMessage, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized.Load() {
		return alreadyInitialized, nil
	}

	params := mcp.InitializeParams{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      s.clientInfo,
	}
	result, err := s.request(ctx, mcpconst.Initialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := s.notify(ctx, mcpconst.NotificationsInitialized, struct{}{}); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	var info mcp.InitializeResult
	if err := json.Unmarshal(result, &info); err != nil {
		s.log.Debug("initialize result is not an MCP InitializeResult", "error", err)
	} else {
		s.stateMu.Lock()
		s.serverInfo = &info
		s.stateMu.Unlock()
	}

	s.initialized.Store(true)
	s.log.Debug("session initialized", "server", info.ServerInfo.Name, "protocolVersion", info.ProtocolVersion)
	return result, nil
}

// Initialized reports whether the handshake has completed.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// ServerInfo returns the decoded initialize result, or nil before the handshake.
func (s *Session) ServerInfo() *mcp.InitializeResult {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.serverInfo
}

// LastRequestID is the id of the most recently sent request, 0 if none.
func (s *Session) LastRequestID() uint64 {
	return s.lastID.Load()
}

// CallTool invokes tools/call and returns the raw result.
func (s *Session) CallTool(ctx context.Context, name string, arguments any) (json.RawMessage, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	return s.request(ctx, mcpconst.ToolsCall, mcp.CallToolParams{Name: name, Arguments: arguments})
}

// ListTools invokes tools/list and returns the raw result.
func (s *Session) ListTools(ctx context.Context) (json.RawMessage, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return s.request(ctx, mcpconst.ToolsList, struct{}{})
}

// Tools lists the peer's tools decoded as MCP tool definitions.
func (s *Session) Tools(ctx context.Context) ([]mcp.Tool, error) {
	raw, err := s.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallToolResult calls a tool and decodes the MCP tool result.
func (s *Session) CallToolResult(ctx context.Context, name string, arguments any) (*mcp.CallToolResult, error) {
	raw, err := s.CallTool(ctx, name, arguments)
	if err != nil {
		return nil, err
	}
	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return result, nil
}

// Err returns the error that made the session unusable, if any.
func (s *Session) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.failure
}

func (s *Session) fail(err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.failure == nil {
		s.failure = err
	}
}

type exchange struct {
	mu        sync.Mutex
	abandoned bool
	started   bool
}

type outcome struct {
	result json.RawMessage
	err    error
}

// request sends one request and waits for its response. The blocking
// exchange runs on its own goroutine so ctx can bound it; if ctx ends after
// the request was written the session becomes suspect.
func (s *Session) request(ctx context.Context, method mcpconst.JsonRpcMethod, params any) (json.RawMessage, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ex := &exchange{}
	done := make(chan outcome, 1)
	go func() {
		s.readMu.Lock()
		defer s.readMu.Unlock()

		ex.mu.Lock()
		if ex.abandoned {
			ex.mu.Unlock()
			return
		}
		ex.started = true
		ex.mu.Unlock()

		result, err := s.roundTrip(method, params)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return s.abandon(ctx, method, ex, done)
	}
}

// abandon gives up on ex after ctx ended. An outcome that is already waiting
// in done still wins, since select picks at random when both are ready.
func (s *Session) abandon(ctx context.Context, method mcpconst.JsonRpcMethod, ex *exchange, done <-chan outcome) (json.RawMessage, error) {
	ex.mu.Lock()
	ex.abandoned = true
	started := ex.started
	ex.mu.Unlock()

	select {
	case out := <-done:
		return out.result, out.err
	default:
	}

	if started {
		s.fail(fmt.Errorf("%w (%s: %v)", ErrSessionSuspect, method, ctx.Err()))
		s.log.Warn("request abandoned in flight", "method", method, "error", ctx.Err())
	}
	return nil, fmt.Errorf("%s: %w", method, ctx.Err())
}

// roundTrip must be called with readMu held.
func (s *Session) roundTrip(method mcpconst.JsonRpcMethod, params any) (json.RawMessage, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}

	id := s.lastID.Add(1)
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := s.write(req); err != nil {
		return nil, s.transportError(err)
	}
	s.log.Debug("request sent", "id", id, "method", method)

	for {
		var msg jsonrpc.Inbound
		if err := s.codec.ReadObject(s.r, &msg); err != nil {
			return nil, s.transportError(err)
		}
		if !msg.Matches(id) {
			s.log.Debug("skipping message", "kind", msg.Kind(), "method", msg.Method, "id", string(msg.ID), "awaiting", id)
			continue
		}
		if msg.Error != nil {
			return nil, newProtocolError(msg.Error)
		}
		return msg.ResultOrNull(), nil
	}
}

// notify sends a notification. It takes only the write lock.
func (s *Session) notify(ctx context.Context, method mcpconst.JsonRpcMethod, params any) error {
	if err := s.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := s.write(req); err != nil {
		return s.transportError(err)
	}
	return nil
}

func (s *Session) write(msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.codec.WriteObject(s.w, msg)
}

func (s *Session) transportError(err error) error {
	wrapped := fmt.Errorf("%w: %w", ErrSessionBroken, err)
	s.fail(wrapped)
	s.log.Warn("session transport failed", "error", err)
	return wrapped
}
