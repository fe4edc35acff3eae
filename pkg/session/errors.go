package session

import (
	"context"
	"errors"
)

// Error taxonomy returned to senders as typed reply codes
var (
	ErrProtocol            = errors.New("protocol error")
	ErrCapacity            = errors.New("capacity exceeded")
	ErrDuplicateClient     = errors.New("duplicate client")
	ErrTimeout             = errors.New("timed out")
	ErrReceiverUnavailable = errors.New("receiver unavailable")
	ErrSessionClosed       = errors.New("session closed")
	ErrNotFound            = errors.New("session not found")
)

// Kind is the stable error code carried in RPC replies
type Kind string

const (
	KindNone                Kind = ""
	KindProtocol            Kind = "protocol"
	KindCapacity            Kind = "capacity"
	KindDuplicateClient     Kind = "duplicate_client"
	KindTimeout             Kind = "timeout"
	KindReceiverUnavailable Kind = "receiver_unavailable"
	KindSessionClosed       Kind = "session_closed"
	KindNotFound            Kind = "not_found"
	KindInternal            Kind = "internal"
)

// Reply status codes of session_start / session_data / session_end
const (
	StatusOK    = 0
	StatusError = 1
)

// KindOf maps an error to its reply code
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrCapacity):
		return KindCapacity
	case errors.Is(err, ErrDuplicateClient):
		return KindDuplicateClient
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrReceiverUnavailable):
		return KindReceiverUnavailable
	case errors.Is(err, ErrSessionClosed):
		return KindSessionClosed
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// StatusOf maps an error to the 0/1 status code
func StatusOf(err error) int {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
