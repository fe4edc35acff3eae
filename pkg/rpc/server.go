package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"castd/pkg/session"
	"castd/pkg/status"
)

// Backend is the session surface served over the connection
type Backend interface {
	Connect(clientID string, sub status.Subscriber) (string, error)
	Disconnect(handle string) bool
	Start(handle string, info session.FileInfo) error
	Data(ctx context.Context, handle string, buf []byte, done bool) error
	End(ctx context.Context, handle string) error
}

// Config RPC 연결 설정
type Config struct {
	ReadLimit    int64
	WriteTimeout time.Duration
}

// DefaultConfig returns the default connection limits
func DefaultConfig() Config {
	return Config{
		ReadLimit:    16 << 20,
		WriteTimeout: 5 * time.Second,
	}
}

// Server upgrades HTTP requests to sender connections
type Server struct {
	backend  Backend
	config   Config
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer creates an RPC server
func NewServer(backend Backend, config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		backend: backend,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			// LAN 전용 서비스: origin 검사 없음
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remoteAddr", r.RemoteAddr, "err", err)
		return
	}

	c := &Conn{
		id:      uuid.NewString(),
		ws:      ws,
		backend: s.backend,
		config:  s.config,
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	slog.Info("Sender connected", "connId", c.id, "remoteAddr", r.RemoteAddr)
	c.serve(s.ctx)
	slog.Info("Sender connection closed", "connId", c.id, "remoteAddr", r.RemoteAddr)
}

// Connections returns the number of open sender connections
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close closes every connection and waits for their sessions to be released
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
}

// Conn is one sender connection. Requests are handled in arrival order;
// status pushes may interleave between replies.
type Conn struct {
	id      string
	ws      *websocket.Conn
	backend Backend
	config  Config

	writeMu sync.Mutex // gorilla는 동시 writer 하나만 허용
	handle  string     // read loop 고루틴에서만 접근
}

// PushStatus implements status.Subscriber (MediaStatusCallback)
func (c *Conn) PushStatus(st status.PlaybackStatus) error {
	return c.write(Push{Method: MethodMediaStatus, Params: st})
}

func (c *Conn) serve(ctx context.Context) {
	defer c.ws.Close()
	defer c.release()

	if c.config.ReadLimit > 0 {
		c.ws.SetReadLimit(c.config.ReadLimit)
	}

	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			if isDecodeError(err) {
				// 프레임은 소비되었으므로 연결은 유지
				_ = c.write(errorReply(req.ID, nil, fmt.Errorf("%w: malformed request: %v", session.ErrProtocol, err)))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Sender read failed", "connId", c.id, "err", err)
			}
			return
		}

		reply := c.dispatch(ctx, req)
		if err := c.write(reply); err != nil {
			slog.Warn("Failed to write reply", "connId", c.id, "method", req.Method, "err", err)
			return
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, req Request) Reply {
	switch req.Method {
	case MethodSessionStart, MethodSessionData, MethodSessionEnd:
		if c.handle == "" {
			return errorReply(req.ID, session.StatusError, fmt.Errorf("%w: %s before connect", session.ErrProtocol, req.Method))
		}
	}

	switch req.Method {
	case MethodConnect:
		var p ConnectParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorReply(req.ID, false, err)
		}
		if c.handle != "" {
			return errorReply(req.ID, false, fmt.Errorf("%w: connection already has a session", session.ErrProtocol))
		}
		handle, err := c.backend.Connect(p.ClientID, c)
		if err != nil {
			return errorReply(req.ID, false, err)
		}
		c.handle = handle
		return Reply{ID: req.ID, Result: true}

	case MethodDisconnect:
		ok := c.release()
		return Reply{ID: req.ID, Result: ok}

	case MethodSessionStart:
		var info session.FileInfo
		if err := decodeParams(req.Params, &info); err != nil {
			return statusReply(req.ID, err)
		}
		return statusReply(req.ID, c.backend.Start(c.handle, info))

	case MethodSessionData:
		var p DataParams
		if err := decodeParams(req.Params, &p); err != nil {
			return statusReply(req.ID, err)
		}
		return statusReply(req.ID, c.backend.Data(ctx, c.handle, p.Buffer, p.Done))

	case MethodSessionEnd:
		return statusReply(req.ID, c.backend.End(ctx, c.handle))

	default:
		return errorReply(req.ID, nil, fmt.Errorf("%w: unknown method %q", session.ErrProtocol, req.Method))
	}
}

// release disconnects the session bound to this connection, if any
func (c *Conn) release() bool {
	if c.handle == "" {
		return false
	}
	handle := c.handle
	c.handle = ""
	return c.backend.Disconnect(handle)
}

func (c *Conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.ws.WriteJSON(v)
}

func (c *Conn) close() {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.ws.Close()
}

func statusReply(id uint64, err error) Reply {
	if err != nil {
		return errorReply(id, session.StatusOf(err), err)
	}
	return Reply{ID: id, Result: session.StatusOK}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: bad params: %v", session.ErrProtocol, err)
	}
	return nil
}
