package session

import (
	"fmt"
	"sync"
	"time"

	"castd/pkg/mime"
	"castd/pkg/receiver"
	"castd/pkg/sink"
	"castd/pkg/status"
)

// FileInfo describes the payload announced by session_start
type FileInfo struct {
	FileSize *uint64 `json:"filesize"`
	Name     string  `json:"name,omitempty"`
	Receiver string  `json:"receiver,omitempty"` // ip:port, 비어 있으면 첫 번째 수신기
}

// Info is a read-only view of one session
type Info struct {
	Handle       string    `json:"handle"`
	ClientID     string    `json:"client_id"`
	State        State     `json:"state"`
	Declared     uint64    `json:"declared"`
	Received     uint64    `json:"received"`
	Forwarded    uint64    `json:"forwarded"`
	Buffered     int       `json:"buffered"`
	Name         string    `json:"name,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	Category     string    `json:"category,omitempty"`
	Receiver     string    `json:"receiver,omitempty"`
	SinkID       string    `json:"sink_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Error        string    `json:"error,omitempty"`
}

// session is owned by the Coordinator; every field below mu is guarded by it
type session struct {
	handle     string
	clientID   string
	subscriber status.Subscriber
	createdAt  time.Time

	mu           sync.Mutex
	state        State
	closed       bool // disconnect 호출됨
	completing   bool // done 수신 후 flush 대기 중
	declared     uint64
	received     uint64
	forwarded    uint64
	name         string
	mimeType     string
	category     mime.Category
	flushTimeout time.Duration
	receiver     receiver.Key
	sink         sink.Sink
	queue        [][]byte
	buffered     int // 큐에 남은 바이트
	inflight     int // 싱크로 전송 중인 바이트
	lastActivity time.Time
	endedAt      time.Time
	failErr      error

	// changed is closed and replaced on every transition or buffer change
	changed chan struct{}
	drained chan struct{}
}

func newSession(handle, clientID string, sub status.Subscriber) *session {
	now := time.Now()
	return &session{
		handle:       handle,
		clientID:     clientID,
		subscriber:   sub,
		createdAt:    now,
		state:        StateConnected,
		lastActivity: now,
		changed:      make(chan struct{}),
	}
}

// broadcast wakes every waiter (mu held)
func (s *session) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// touch records sender activity (mu held)
func (s *session) touch() {
	s.lastActivity = time.Now()
}

// release drops buffered chunks (mu held)
func (s *session) release() {
	s.queue = nil
	s.buffered = 0
}

// fail moves the session to Failed (mu held). Returns false if already terminal.
func (s *session) fail(err error) bool {
	if s.state.Terminal() {
		return false
	}
	s.state = StateFailed
	s.failErr = err
	s.endedAt = time.Now()
	s.release()
	s.broadcast()
	return true
}

// flushed reports whether every accepted byte reached the sink (mu held)
func (s *session) flushed() bool {
	return len(s.queue) == 0 && s.inflight == 0
}

// admit checks the call against state and declared size (mu held)
func (s *session) admit(n int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateTransferring {
		if s.state == StateFailed && s.failErr != nil {
			return fmt.Errorf("%w: session is %s (%v)", ErrProtocol, s.state, s.failErr)
		}
		return fmt.Errorf("%w: session is %s", ErrProtocol, s.state)
	}
	if s.completing {
		return fmt.Errorf("%w: transfer already completing", ErrProtocol)
	}
	if s.received+uint64(n) > s.declared {
		return fmt.Errorf("%w: %d bytes would exceed declared size %d (received %d)",
			ErrCapacity, n, s.declared, s.received)
	}
	return nil
}

// hasRoom reports whether a chunk of n bytes fits the bounded buffer (mu held).
// A chunk larger than the whole buffer is admitted only into an empty buffer.
func (s *session) hasRoom(n, capacity int) bool {
	used := s.buffered + s.inflight
	return used == 0 || used+n <= capacity
}

// enqueue appends a copy of chunk (mu held)
func (s *session) enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.queue = append(s.queue, buf)
	s.buffered += len(buf)
	s.received += uint64(len(buf))
	s.broadcast()
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Handle:       s.handle,
		ClientID:     s.clientID,
		State:        s.state,
		Declared:     s.declared,
		Received:     s.received,
		Forwarded:    s.forwarded,
		Buffered:     s.buffered + s.inflight,
		Name:         s.name,
		MimeType:     s.mimeType,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if s.sink != nil {
		info.Category = s.category.String()
		info.Receiver = s.receiver.String()
		info.SinkID = s.sink.ID()
	}
	if s.failErr != nil {
		info.Error = s.failErr.Error()
	}
	return info
}
