package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"mcphub/internal/jsonrpc"
	"mcphub/internal/logger"
	"mcphub/internal/mcpconst"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(id uint64, result any) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
}

func errorResponse(id uint64, code int, message string) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": message}}
}

func notification(method string) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "method": method, "params": map[string]any{"level": "info"}}
}

var initResult = map[string]any{
	"protocolVersion": "2025-11-05",
	"capabilities":    map[string]any{"tools": map[string]any{}},
	"serverInfo":      map[string]any{"name": "fake", "version": "0.0.1"},
}

// frames returns a stream holding msgs in Content-Length framing.
func frames(t *testing.T, msgs ...any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		require.NoError(t, jsonrpc.WriteMessage(&buf, m))
	}
	return &buf
}

// written decodes everything a session wrote.
func written(t *testing.T, buf *bytes.Buffer) []jsonrpc.Inbound {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(buf.Bytes()))
	var out []jsonrpc.Inbound
	for {
		raw, err := jsonrpc.ReadMessage(r)
		if errors.Is(err, jsonrpc.ErrConnectionClosed) {
			return out
		}
		require.NoError(t, err)
		var m jsonrpc.Inbound
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
}

func newSession(r io.Reader, w io.Writer) *Session {
	return New(r, w, WithLogger(logger.Discard()))
}

// pipePeer runs a fake peer on the far side of a pipe pair. handle returns
// the messages to write back for each message the session sends.
type pipePeer struct {
	mu   sync.Mutex
	seen []jsonrpc.Inbound
}

func (p *pipePeer) received() []jsonrpc.Inbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]jsonrpc.Inbound(nil), p.seen...)
}

func startPipePeer(t *testing.T, handle func(jsonrpc.Inbound) []any) (*Session, *pipePeer) {
	t.Helper()
	toPeerR, toPeerW := io.Pipe()
	fromPeerR, fromPeerW := io.Pipe()
	t.Cleanup(func() {
		_ = toPeerW.Close()
		_ = fromPeerW.Close()
	})

	p := &pipePeer{}
	go func() {
		br := bufio.NewReader(toPeerR)
		for {
			raw, err := jsonrpc.ReadMessage(br)
			if err != nil {
				return
			}
			var m jsonrpc.Inbound
			if json.Unmarshal(raw, &m) != nil {
				return
			}
			p.mu.Lock()
			p.seen = append(p.seen, m)
			p.mu.Unlock()
			for _, reply := range handle(m) {
				if jsonrpc.WriteMessage(fromPeerW, reply) != nil {
					return
				}
			}
		}
	}()
	return newSession(fromPeerR, toPeerW), p
}

func standardPeer(m jsonrpc.Inbound) []any {
	id, ok := m.NumericID()
	if !ok || m.Method == "" {
		return nil
	}
	switch m.Method {
	case "initialize":
		return []any{response(id, initResult)}
	case "tools/list":
		return []any{response(id, map[string]any{"tools": []any{
			map[string]any{"name": "echo", "description": "echo text", "inputSchema": map[string]any{"type": "object"}},
		}})}
	case "tools/call":
		return []any{response(id, map[string]any{"content": []any{
			map[string]any{"type": "text", "text": fmt.Sprintf("call %d", id)},
		}})}
	default:
		return []any{errorResponse(id, -32601, "method not found")}
	}
}

func TestInitializeHandshake(t *testing.T) {
	assert := assert.New(t)
	s, peer := startPipePeer(t, standardPeer)

	result, err := s.Initialize(t.Context())
	require.NoError(t, err)
	assert.JSONEq(`{"protocolVersion":"2025-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"fake","version":"0.0.1"}}`, string(result))
	assert.True(s.Initialized())

	require.Eventually(t, func() bool { return len(peer.received()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := peer.received()

	assert.Equal(jsonrpc.KindRequest, msgs[0].Kind())
	assert.Equal("initialize", msgs[0].Method)
	id, ok := msgs[0].NumericID()
	assert.True(ok)
	assert.Equal(uint64(1), id)
	assert.JSONEq(`{"protocolVersion":"2025-11-05","capabilities":{},"clientInfo":{"name":"aidd-hub","version":"1.0.0"}}`, string(*msgs[0].Params))

	assert.Equal(jsonrpc.KindNotification, msgs[1].Kind())
	assert.Equal("notifications/initialized", msgs[1].Method)
	assert.JSONEq(`{}`, string(*msgs[1].Params))

	info := s.ServerInfo()
	require.NotNil(t, info)
	assert.Equal("fake", info.ServerInfo.Name)
	assert.Equal("2025-11-05", info.ProtocolVersion)
}

func TestInitializeTwiceIsNoop(t *testing.T) {
	assert := assert.New(t)
	var out bytes.Buffer
	s := newSession(frames(t, response(1, initResult)), &out)

	_, err := s.Initialize(t.Context())
	require.NoError(t, err)
	sent := out.Len()

	again, err := s.Initialize(t.Context())
	require.NoError(t, err)
	assert.JSONEq(`{"already_initialized":true}`, string(again))
	assert.Equal(sent, out.Len())

	msgs := written(t, &out)
	require.Len(t, msgs, 2)
	assert.Equal("initialize", msgs[0].Method)
	assert.Equal("notifications/initialized", msgs[1].Method)
	assert.Equal(uint64(1), s.LastRequestID())
}

func TestToolCallsRequireInitialize(t *testing.T) {
	assert := assert.New(t)
	var out bytes.Buffer
	s := newSession(strings.NewReader(""), &out)

	_, err := s.CallTool(t.Context(), "echo", map[string]any{"text": "hi"})
	assert.ErrorIs(err, ErrNotInitialized)
	_, err = s.ListTools(t.Context())
	assert.ErrorIs(err, ErrNotInitialized)
	_, err = s.Tools(t.Context())
	assert.ErrorIs(err, ErrNotInitialized)

	assert.Zero(out.Len())
	assert.Zero(s.LastRequestID())
}

func TestFailedInitializeStaysUninitialized(t *testing.T) {
	assert := assert.New(t)
	var out bytes.Buffer
	s := newSession(frames(t, errorResponse(1, -32602, "unsupported protocol version"), response(2, initResult)), &out)

	_, err := s.Initialize(t.Context())
	require.Error(t, err)
	assert.True(IsProtocolError(err))
	assert.False(s.Initialized())

	_, err = s.CallTool(t.Context(), "echo", nil)
	assert.ErrorIs(err, ErrNotInitialized)

	_, err = s.Initialize(t.Context())
	require.NoError(t, err)
	assert.True(s.Initialized())
}

func TestRequestIDsStrictlyIncrease(t *testing.T) {
	s, peer := startPipePeer(t, standardPeer)
	ctx := t.Context()

	_, err := s.Initialize(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = s.ListTools(ctx)
		require.NoError(t, err)
		_, err = s.CallTool(ctx, "echo", map[string]any{"text": "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(11), s.LastRequestID())

	var ids []uint64
	for _, m := range peer.received() {
		if id, ok := m.NumericID(); ok {
			ids = append(ids, id)
		}
	}
	require.Len(t, ids, 11)
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
}

func TestNotificationIsNotSurfaced(t *testing.T) {
	var out bytes.Buffer
	s := newSession(frames(t,
		notification("notifications/message"),
		response(1, initResult),
		notification("notifications/message"),
		notification("notifications/tools/list_changed"),
		response(2, map[string]any{"tools": []any{}}),
	), &out)

	_, err := s.Initialize(t.Context())
	require.NoError(t, err)

	result, err := s.ListTools(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(result))
}

func TestMismatchedResponsesAreSkipped(t *testing.T) {
	var out bytes.Buffer
	s := newSession(frames(t,
		response(1, initResult),
		response(99, "stale"),
		map[string]any{"jsonrpc": "2.0", "id": "2", "result": "string id"},
		map[string]any{"jsonrpc": "2.0", "id": 5, "method": "roots/list"},
		response(2, map[string]any{"ok": true}),
	), &out)

	_, err := s.Initialize(t.Context())
	require.NoError(t, err)

	result, err := s.CallTool(t.Context(), "echo", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestErrorResponseForID7(t *testing.T) {
	assert := assert.New(t)
	msgs := []any{response(1, initResult)}
	for id := uint64(2); id <= 6; id++ {
		msgs = append(msgs, response(id, map[string]any{"tools": []any{}}))
	}
	msgs = append(msgs, errorResponse(7, -32601, "method not found"))

	var out bytes.Buffer
	s := newSession(frames(t, msgs...), &out)
	ctx := t.Context()

	_, err := s.Initialize(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = s.ListTools(ctx)
		require.NoError(t, err)
	}

	_, err = s.CallTool(ctx, "missing", nil)
	require.Error(t, err)
	assert.Contains(err.Error(), "-32601")
	assert.Contains(err.Error(), "method not found")

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(int64(-32601), pe.Code)
	assert.Equal(uint64(7), s.LastRequestID())

	var requests int
	for _, m := range written(t, &out) {
		if m.Kind() == jsonrpc.KindRequest {
			requests++
		}
	}
	assert.Equal(7, requests, "an error response must not be retried")
}

func TestProtocolErrorKeepsSessionUsable(t *testing.T) {
	s, _ := startPipePeer(t, standardPeer)
	ctx := t.Context()
	_, err := s.Initialize(ctx)
	require.NoError(t, err)

	_, err = s.request(ctx, "resources/list", struct{}{})
	require.True(t, IsProtocolError(err))
	assert.NoError(t, s.Err())

	_, err = s.ListTools(ctx)
	assert.NoError(t, err)
}

func TestMalformedErrorKeepsSessionUsable(t *testing.T) {
	var out bytes.Buffer
	s := newSession(frames(t,
		response(1, initResult),
		json.RawMessage(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601.0}}`),
		response(3, map[string]any{"content": []any{}}),
	), &out)
	ctx := t.Context()
	_, err := s.Initialize(ctx)
	require.NoError(t, err)

	_, err = s.CallTool(ctx, "missing", nil)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "JSON-RPC error -1: Unknown error", pe.Error())
	assert.NoError(t, s.Err())

	result, err := s.CallTool(ctx, "echo", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[]}`, string(result))
}

func TestProtocolErrorData(t *testing.T) {
	var out bytes.Buffer
	s := newSession(frames(t, map[string]any{
		"jsonrpc": "2.0", "id": 1,
		"error": map[string]any{"code": -32000, "message": "boom", "data": map[string]any{"detail": "x"}},
	}), &out)

	_, err := s.Initialize(t.Context())
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "JSON-RPC error -32000: boom", pe.Error())
	assert.JSONEq(t, `{"detail":"x"}`, string(pe.Data))
}

func TestNullResult(t *testing.T) {
	var out bytes.Buffer
	s := newSession(frames(t, response(1, initResult), map[string]any{"jsonrpc": "2.0", "id": 2}), &out)
	_, err := s.Initialize(t.Context())
	require.NoError(t, err)

	result, err := s.CallTool(t.Context(), "noop", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), result)
}

func TestTransportErrorBreaksSession(t *testing.T) {
	assert := assert.New(t)
	var out bytes.Buffer
	s := newSession(frames(t, response(1, initResult)), &out)
	ctx := t.Context()

	_, err := s.Initialize(ctx)
	require.NoError(t, err)

	_, err = s.ListTools(ctx)
	assert.ErrorIs(err, ErrSessionBroken)
	assert.ErrorIs(err, jsonrpc.ErrConnectionClosed)

	sent := out.Len()
	_, err = s.ListTools(ctx)
	assert.ErrorIs(err, ErrSessionBroken)
	assert.Equal(sent, out.Len(), "a broken session must not write")
}

func TestMalformedFrameBreaksSession(t *testing.T) {
	var out bytes.Buffer
	s := newSession(strings.NewReader("Content-Length: 4\r\n\r\n{bad"), &out)

	_, err := s.Initialize(t.Context())
	assert.ErrorIs(t, err, ErrSessionBroken)
	assert.ErrorIs(t, err, jsonrpc.ErrParse)
	assert.False(t, s.Initialized())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFailureBreaksSession(t *testing.T) {
	s := newSession(strings.NewReader(""), failingWriter{})
	_, err := s.Initialize(t.Context())
	assert.ErrorIs(t, err, ErrSessionBroken)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestTimeoutMarksSessionSuspect(t *testing.T) {
	assert := assert.New(t)
	silentR, silentW := io.Pipe()
	t.Cleanup(func() { _ = silentW.Close() })

	var out safeBuffer
	s := newSession(silentR, &out)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Initialize(ctx)
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.False(s.Initialized())

	_, err = s.Initialize(t.Context())
	assert.ErrorIs(err, ErrSessionSuspect)
}

func TestFinishedExchangeIsNotSuspect(t *testing.T) {
	s := newSession(strings.NewReader(""), io.Discard)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	done := make(chan outcome, 1)
	done <- outcome{result: json.RawMessage(`{"tools":[]}`)}
	result, err := s.abandon(ctx, mcpconst.ToolsList, &exchange{started: true}, done)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(result))
	assert.NoError(t, s.Err())

	_, err = s.abandon(ctx, mcpconst.ToolsList, &exchange{started: true}, make(chan outcome, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Err(), ErrSessionSuspect)
}

func TestCancelledBeforeSendDoesNotWrite(t *testing.T) {
	var out safeBuffer
	s := newSession(strings.NewReader(""), &out)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := s.Initialize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
	assert.NoError(t, s.Err())
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	s, _ := startPipePeer(t, standardPeer)
	ctx := t.Context()
	_, err := s.Initialize(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*mcp.CallToolResult, 20)
	errs := make([]error, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.CallToolResult(ctx, "echo", map[string]any{"n": i})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Content, 1)
		text, ok := mcp.AsTextContent(results[i].Content[0])
		require.True(t, ok)
		assert.False(t, seen[text.Text], "duplicate response %s", text.Text)
		seen[text.Text] = true
	}
	assert.Equal(t, uint64(21), s.LastRequestID())
}

func TestTypedHelpers(t *testing.T) {
	s, _ := startPipePeer(t, standardPeer)
	ctx := t.Context()
	_, err := s.Initialize(ctx)
	require.NoError(t, err)

	tools, err := s.Tools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "echo text", tools[0].Description)

	result, err := s.CallToolResult(ctx, "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "call 3", text.Text)
}

func TestLineDelimitedPeer(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-11-05","capabilities":{},"serverInfo":{"name":"lines","version":"1"}}}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/message","params":{}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"result":{"tools":[]}}` + "\n"
	var out bytes.Buffer
	s := newSession(strings.NewReader(input), &out)

	_, err := s.Initialize(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "lines", s.ServerInfo().ServerInfo.Name)

	tools, err := s.Tools(t.Context())
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestClientInfoOptions(t *testing.T) {
	var out bytes.Buffer
	s := New(frames(t, response(1, initResult)), &out,
		WithLogger(logger.Discard()),
		WithClientInfo("custom", "9.9"),
		WithProtocolVersion("2025-06-18"),
	)
	_, err := s.Initialize(t.Context())
	require.NoError(t, err)

	msgs := written(t, &out)
	require.NotEmpty(t, msgs)
	assert.JSONEq(t, `{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"custom","version":"9.9"}}`, string(*msgs[0].Params))
}

// safeBuffer is a bytes.Buffer that tolerates a writer goroutine outliving the test call.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
