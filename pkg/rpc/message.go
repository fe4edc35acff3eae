package rpc

import (
	"encoding/json"

	"castd/pkg/session"
)

// Method names of the sender-facing surface
const (
	MethodConnect      = "connect"
	MethodDisconnect   = "disconnect"
	MethodSessionStart = "session_start"
	MethodSessionData  = "session_data"
	MethodSessionEnd   = "session_end"

	// MethodMediaStatus is the server-initiated status callback
	MethodMediaStatus = "MediaStatusCallback"
)

// Request 송신자 요청 프레임
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Reply answers exactly one Request
type Reply struct {
	ID     uint64      `json:"id"`
	Result any         `json:"result"`
	Error  *ReplyError `json:"error,omitempty"`
}

// ReplyError carries the typed error code
type ReplyError struct {
	Kind    session.Kind `json:"kind"`
	Message string       `json:"message"`
}

// Push is a server-initiated frame without id
type Push struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// ConnectParams of connect
type ConnectParams struct {
	ClientID string `json:"client_id"`
}

// DataParams of session_data. Buffer travels base64 encoded.
type DataParams struct {
	Buffer []byte `json:"buffer"`
	Done   bool   `json:"done"`
}

func errorReply(id uint64, result any, err error) Reply {
	return Reply{
		ID:     id,
		Result: result,
		Error:  &ReplyError{Kind: session.KindOf(err), Message: err.Error()},
	}
}
