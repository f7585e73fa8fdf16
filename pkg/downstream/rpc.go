package downstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
)

const jsonRPCVersion = "2.0"

// Methods used against downstream servers.
const (
	MethodInitialize    = "initialize"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"

	methodPing                  = "ping"
	notificationToolListChanged = "notifications/tools/list_changed"
)

// JSON-RPC error codes produced locally.
const (
	codeMethodNotFound = -32601
)

// DefaultProtocolVersion is advertised in the initialize request.
const DefaultProtocolVersion = "2024-11-05"

// Request is an outgoing JSON-RPC request frame.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC response: exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Err converts a downstream error object into a protocol fault attributed to
// backend, or returns nil for successful responses.
func (r *Response) Err(backend string) error {
	if r == nil {
		return faults.Protocol(backend, 0, "empty response")
	}
	if r.Error == nil {
		return nil
	}
	return faults.Protocol(backend, r.Error.Code, r.Error.Message)
}

// inboundFrame is the union of every JSON-RPC message a server may send.
type inboundFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (f *inboundFrame) hasID() bool {
	return len(f.ID) > 0 && !bytes.Equal(f.ID, []byte("null"))
}

// correlationID normalizes string and numeric ids to the string form used as
// the pending-table key.
func correlationID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String(), true
		}
	}
	return "", false
}

type serverReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}
