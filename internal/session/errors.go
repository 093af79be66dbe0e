package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"mcphub/internal/jsonrpc"
)

var (
	// ErrNotInitialized is returned by tool operations before a successful Initialize.
	ErrNotInitialized = errors.New("session not initialized: call initialize first")
	// ErrSessionSuspect means an earlier request was abandoned after its bytes
	// reached the peer; the stream position is unknown and the peer must be restarted.
	ErrSessionSuspect = errors.New("session abandoned a request in flight, restart the peer")
	// ErrSessionBroken wraps the transport failure that ended the session.
	ErrSessionBroken = errors.New("session transport failed")
)

// ProtocolError is a JSON-RPC error response from the peer.
type ProtocolError struct {
	Code    int64
	Message string
	Data    json.RawMessage
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

func newProtocolError(e *jsonrpc.ErrorObject) *ProtocolError {
	return &ProtocolError{Code: e.Code, Message: e.Message, Data: e.Data}
}

// IsProtocolError reports whether err carries a peer error response.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
