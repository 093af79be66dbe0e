package jsonrpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sourcegraph/jsonrpc2"
)

// Framing errors. All of them leave the stream in an unknown position, so a
// session that sees one must be abandoned.
var (
	ErrConnectionClosed     = errors.New("connection closed")
	ErrMissingContentLength = errors.New("missing or invalid Content-Length header")
	ErrParse                = errors.New("malformed JSON message")
	ErrMessageTooLarge      = errors.New("message too large")
)

// DefaultMaxBodySize caps a declared Content-Length, a newline-delimited
// document and a single header line.
const DefaultMaxBodySize = 64 << 20

const contentLengthHeader = "content-length"

// Codec writes Content-Length framed messages and reads either that framing or
// one JSON document per line. It satisfies jsonrpc2.ObjectCodec so it can back a
// jsonrpc2.Conn as well as a Session.
type Codec struct {
	// MaxBodySize caps a declared Content-Length and any line read while
	// looking for one. Zero means DefaultMaxBodySize.
	MaxBodySize int
}

var _ jsonrpc2.ObjectCodec = Codec{}

// WriteObject emits "Content-Length: N\r\n\r\n" followed by the compact JSON
// payload, then flushes the stream if it buffers.
func (c Codec) WriteObject(stream io.Writer, obj any) error {
	if err := (jsonrpc2.VSCodeObjectCodec{}).WriteObject(stream, obj); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if f, ok := stream.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush message: %w", err)
		}
	}
	return nil
}

// ReadObject reads the next message and unmarshals it into v.
func (c Codec) ReadObject(stream *bufio.Reader, v any) error {
	body, err := c.readFrame(stream)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

func (c Codec) maxBodySize() int {
	if c.MaxBodySize > 0 {
		return c.MaxBodySize
	}
	return DefaultMaxBodySize
}

// readFrame returns the raw bytes of one message. A first non-blank line that
// starts with '{' is taken as a whole newline-delimited document; anything else
// opens a header block that ends at the first blank line.
//
// TODO: drop line mode once every packaged peer frames its output. Until then a
// framed peer that omits its header block is silently read as line mode.
func (c Codec) readFrame(stream *bufio.Reader) ([]byte, error) {
	var first string
	for {
		line, err := c.readLine(stream)
		if errors.Is(err, ErrMessageTooLarge) {
			return nil, err
		}
		if err != nil && !(errors.Is(err, io.EOF) && strings.TrimSpace(line) != "") {
			return nil, closedError(err, "header")
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			first = trimmed
			break
		}
	}

	if strings.HasPrefix(first, "{") {
		return []byte(first), nil
	}

	length, found := contentLength(first)
	for {
		line, err := c.readLine(stream)
		if errors.Is(err, ErrMessageTooLarge) {
			return nil, err
		}
		if err != nil {
			return nil, closedError(err, "headers")
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if n, ok := contentLength(trimmed); ok {
			length, found = n, true
		}
	}

	if !found {
		return nil, ErrMissingContentLength
	}
	if length > c.maxBodySize() {
		return nil, fmt.Errorf("%w: %w: %d exceeds limit %d", ErrMissingContentLength, ErrMessageTooLarge, length, c.maxBodySize())
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(stream, body); err != nil {
		return nil, closedError(err, "body")
	}
	return body, nil
}

// readLine reads through the next '\n' like bufio.Reader.ReadString, but
// gives up once the line outgrows the body limit.
func (c Codec) readLine(stream *bufio.Reader) (string, error) {
	limit := c.maxBodySize()
	var line []byte
	for {
		chunk, err := stream.ReadSlice('\n')
		line = append(line, chunk...)
		if len(bytes.TrimRight(line, "\r\n")) > limit {
			return "", fmt.Errorf("%w: line exceeds limit %d", ErrMessageTooLarge, limit)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

// contentLength parses a "Content-Length: N" header line. The header name is
// matched case-insensitively.
func contentLength(line string) (int, bool) {
	name, value, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func closedError(err error, reading string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w while reading %s", ErrConnectionClosed, reading)
	}
	return fmt.Errorf("read %s: %w", reading, err)
}

var defaultCodec Codec

// WriteMessage frames msg onto w with the default codec.
func WriteMessage(w io.Writer, msg any) error {
	return defaultCodec.WriteObject(w, msg)
}

// ReadMessage reads one message from r with the default codec.
func ReadMessage(r *bufio.Reader) (json.RawMessage, error) {
	var msg json.RawMessage
	if err := defaultCodec.ReadObject(r, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}
