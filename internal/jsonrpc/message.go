package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"mcphub/internal/mcpconst"

	"github.com/sourcegraph/jsonrpc2"
)

// Kind classifies a message received from a peer.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Inbound is any JSON-RPC 2.0 message a peer can send. The id is kept raw so a
// response carrying an id we do not understand is skipped instead of breaking
// the stream.
type Inbound struct {
	JSONRPC string           `json:"jsonrpc,omitempty"`
	ID      json.RawMessage  `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  *json.RawMessage `json:"params,omitempty"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject     `json:"error,omitempty"`
}

// Defaults for error members a peer leaves out or sends with the wrong type.
const (
	UnknownErrorCode    int64 = -1
	UnknownErrorMessage       = "Unknown error"
)

// ErrorObject is the error member of a response. Decoding it never fails, so
// a peer that sends a malformed error still gets its request answered: a code
// that is missing or not an integer reads as UnknownErrorCode and a message
// that is missing or not a string reads as UnknownErrorMessage.
type ErrorObject struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) UnmarshalJSON(data []byte) error {
	*e = ErrorObject{Code: UnknownErrorCode, Message: UnknownErrorMessage}
	var raw struct {
		Code    json.RawMessage `json:"code"`
		Message json.RawMessage `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if json.Unmarshal(data, &raw) != nil {
		return nil
	}
	if code, err := strconv.ParseInt(string(raw.Code), 10, 64); err == nil {
		e.Code = code
	}
	var msg string
	if len(raw.Message) > 0 && string(raw.Message) != "null" && json.Unmarshal(raw.Message, &msg) == nil {
		e.Message = msg
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		e.Data = raw.Data
	}
	return nil
}

func (m *Inbound) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// Kind reports which of the three envelope shapes m has.
func (m *Inbound) Kind() Kind {
	switch {
	case m.Method != "" && m.hasID():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.hasID():
		return KindResponse
	default:
		return KindInvalid
	}
}

// NumericID returns the id when it is a JSON number.
func (m *Inbound) NumericID() (uint64, bool) {
	if !m.hasID() {
		return 0, false
	}
	var id jsonrpc2.ID
	if err := json.Unmarshal(m.ID, &id); err != nil || id.IsString {
		return 0, false
	}
	return id.Num, true
}

// Matches is true only for a response correlated with request id.
func (m *Inbound) Matches(id uint64) bool {
	if m.Kind() != KindResponse {
		return false
	}
	got, ok := m.NumericID()
	return ok && got == id
}

// ResultOrNull returns the result payload, or JSON null when the peer sent none.
func (m *Inbound) ResultOrNull() json.RawMessage {
	if m.Result == nil || len(*m.Result) == 0 {
		return json.RawMessage("null")
	}
	return *m.Result
}

// NewRequest builds an outbound envelope. Methods under notifications/ are
// sent without an id, everything else carries id.
func NewRequest(id uint64, method mcpconst.JsonRpcMethod, params any) (*jsonrpc2.Request, error) {
	req := &jsonrpc2.Request{
		Method: string(method),
		ID:     jsonrpc2.ID{Num: id},
		Notif:  method.IsNotification(),
	}
	if params != nil {
		if err := req.SetParams(params); err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
	}
	return req, nil
}

// NewNotification builds an outbound notification.
func NewNotification(method mcpconst.JsonRpcMethod, params any) (*jsonrpc2.Request, error) {
	req, err := NewRequest(0, method, params)
	if err != nil {
		return nil, err
	}
	req.Notif = true
	return req, nil
}
