package session

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"castd/pkg/mime"
	"castd/pkg/receiver"
	"castd/pkg/scheduler"
	"castd/pkg/sink"
	"castd/pkg/status"
)

// ReaperTaskName is the scheduler task name of the idle reaper
const ReaperTaskName = "session-reaper"

// Config 세션 코디네이터 설정
type Config struct {
	BufferSize   int
	DataTimeout  time.Duration
	FlushTimeout time.Duration
	IdleTimeout  time.Duration
	ReapInterval time.Duration

	// CategoryFlushTimeout overrides FlushTimeout per media category
	CategoryFlushTimeout map[mime.Category]time.Duration
}

// flushTimeoutFor returns the flush deadline for one category
func (c Config) flushTimeoutFor(category mime.Category) time.Duration {
	if d, ok := c.CategoryFlushTimeout[category]; ok && d > 0 {
		return d
	}
	return c.FlushTimeout
}

// DefaultConfig returns the built-in coordinator settings
func DefaultConfig() Config {
	return Config{
		BufferSize:   1 << 20,
		DataTimeout:  5 * time.Second,
		FlushTimeout: 10 * time.Second,
		IdleTimeout:  2 * time.Minute,
		ReapInterval: 15 * time.Second,
	}
}

// Record is the final outcome of one session, written when it is removed
type Record struct {
	Handle    string
	ClientID  string
	State     string
	Name      string
	MimeType  string
	Category  string
	Receiver  string
	Declared  uint64
	Received  uint64
	Forwarded uint64
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Recorder persists session outcomes (optional)
type Recorder interface {
	RecordSession(ctx context.Context, r Record) error
}

// Coordinator owns every session: the table, the per-session state machine,
// the bounded buffers and their drainers.
type Coordinator struct {
	config    Config
	registry  *receiver.Registry
	publisher *status.Publisher
	mimes     *mime.Table
	recorder  Recorder

	mu       sync.RWMutex
	sessions map[string]*session // handle -> session
	clients  map[string]string   // clientID -> handle
}

// NewCoordinator creates a coordinator. mimes and recorder may be nil.
func NewCoordinator(config Config, reg *receiver.Registry, pub *status.Publisher, mimes *mime.Table, recorder Recorder) *Coordinator {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if mimes == nil {
		mimes = mime.Default()
	}
	return &Coordinator{
		config:    config,
		registry:  reg,
		publisher: pub,
		mimes:     mimes,
		recorder:  recorder,
		sessions:  make(map[string]*session),
		clients:   make(map[string]string),
	}
}

// Run registers the idle reaper with the scheduler
func (c *Coordinator) Run(sched *scheduler.Scheduler) error {
	if c.config.IdleTimeout <= 0 || c.config.ReapInterval <= 0 {
		slog.Info("Idle session reaper disabled")
		return nil
	}
	_, err := sched.Every(ReaperTaskName, c.config.ReapInterval, false, func(ctx context.Context) {
		c.Reap(time.Now())
	})
	return err
}

// Connect registers a new session for clientID and delivers the current
// playback snapshot to sub. It fails if clientID already owns a session.
func (c *Coordinator) Connect(clientID string, sub status.Subscriber) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("%w: empty client id", ErrProtocol)
	}

	c.mu.Lock()
	if existing, ok := c.clients[clientID]; ok {
		c.mu.Unlock()
		slog.Warn("Duplicate client rejected", "clientId", clientID, "sessionId", existing)
		return "", fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}
	handle := uuid.NewString()
	s := newSession(handle, clientID, sub)
	c.sessions[handle] = s
	c.clients[clientID] = handle
	count := len(c.sessions)
	c.mu.Unlock()

	slog.Info("Session connected", "sessionId", handle, "clientId", clientID, "sessionCount", count)

	if sub != nil && c.publisher != nil {
		if err := c.publisher.Subscribe(handle, sub); err != nil {
			slog.Warn("Status subscription failed", "sessionId", handle, "err", err)
			return handle, nil
		}

		// 구독 전에 disconnect가 먼저 끝났으면 구독을 되돌림
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			c.publisher.Unsubscribe(handle)
			return handle, nil
		}

		if err := c.publisher.Deliver(handle); err != nil {
			// 전달 실패는 구독만 해제되고 세션은 유지됨
			slog.Warn("Connect-time status sync failed", "sessionId", handle, "err", err)
		}
	}

	return handle, nil
}

// Disconnect removes the session. It is idempotent. The buffer is released
// and the status subscription dropped before it returns; an in-flight
// Data call fails with ErrSessionClosed.
func (c *Coordinator) Disconnect(handle string) bool {
	c.mu.Lock()
	s, ok := c.sessions[handle]
	if ok {
		delete(c.sessions, handle)
		if c.clients[s.clientID] == handle {
			delete(c.clients, s.clientID)
		}
	}
	count := len(c.sessions)
	c.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	s.closed = true
	if !s.state.Terminal() {
		s.state = StateDisconnected
		s.endedAt = time.Now()
	}
	s.release()
	s.broadcast()
	record := c.recordOf(s)
	s.mu.Unlock()

	c.unsubscribe(s)

	slog.Info("Session disconnected", "sessionId", handle, "clientId", s.clientID, "outcome", record.State, "sessionCount", count)

	if c.recorder != nil {
		if err := c.recorder.RecordSession(context.Background(), record); err != nil {
			slog.Warn("Failed to journal session", "sessionId", handle, "err", err)
		}
	}
	return true
}

// Start begins a transfer. The declared size is bound to this session only.
func (c *Coordinator) Start(handle string, info FileInfo) error {
	s, err := c.get(handle)
	if err != nil {
		return err
	}
	if info.FileSize == nil {
		return fmt.Errorf("%w: fileInfo missing filesize", ErrProtocol)
	}

	s.mu.Lock()
	err = c.checkStartable(s)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	mimeType, category := c.classify(info.Name)

	// 레지스트리 락은 세션 락과 동시에 잡지 않음
	binding, err := c.resolveSink(info.Receiver)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := c.checkStartable(s); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StateTransferring
	s.declared = *info.FileSize
	s.name = info.Name
	s.mimeType = mimeType
	s.category = category
	s.flushTimeout = c.config.flushTimeoutFor(category)
	s.receiver = binding.Receiver
	s.sink = binding.Sink
	s.drained = make(chan struct{})
	s.touch()
	s.broadcast()
	s.mu.Unlock()

	go c.drain(s)

	slog.Info("Session transfer started",
		"sessionId", handle,
		"fileSize", *info.FileSize,
		"mimeType", mimeType,
		"category", category.String(),
		"receiver", binding.Receiver.String(),
		"sinkId", binding.SinkID)

	return nil
}

// Data appends buf to the session buffer, waiting for room when the buffer
// is full. done=true also flushes the buffer to the sink and ends the session.
func (c *Coordinator) Data(ctx context.Context, handle string, buf []byte, done bool) error {
	s, err := c.get(handle)
	if err != nil {
		return err
	}

	// 백프레셔 대기는 DataTimeout, flush는 FlushTimeout으로 각각 제한
	waitCtx := ctx
	if c.config.DataTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.config.DataTimeout)
		defer cancel()
	}

	s.mu.Lock()
	for {
		if err := s.admit(len(buf)); err != nil {
			failed := false
			if isCapacity(err) {
				failed = s.fail(err)
			}
			s.mu.Unlock()
			if failed {
				slog.Warn("Session failed", "sessionId", handle, "err", err)
				c.finish(s)
			}
			return err
		}
		if s.hasRoom(len(buf), c.config.BufferSize) {
			break
		}

		// 버퍼 가득 참: 드레이너가 비울 때까지 대기
		wait := s.changed
		s.mu.Unlock()
		select {
		case <-wait:
		case <-waitCtx.Done():
			slog.Debug("Backpressure wait expired", "sessionId", handle, "chunk", len(buf))
			return fmt.Errorf("%w: buffer full: %v", ErrTimeout, waitCtx.Err())
		}
		s.mu.Lock()
	}

	s.enqueue(buf)
	s.touch()
	if !done {
		s.mu.Unlock()
		return nil
	}
	s.completing = true
	s.mu.Unlock()

	return c.flush(ctx, s)
}

// End flushes the remaining buffer and marks the session Ended
func (c *Coordinator) End(ctx context.Context, handle string) error {
	s, err := c.get(handle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.admit(0); err != nil {
		s.mu.Unlock()
		return err
	}
	s.completing = true
	s.touch()
	s.mu.Unlock()

	return c.flush(ctx, s)
}

// Get returns a view of one session
func (c *Coordinator) Get(handle string) (Info, bool) {
	s, err := c.get(handle)
	if err != nil {
		return Info{}, false
	}
	return s.info(), true
}

// Snapshot lists all sessions ordered by creation time
func (c *Coordinator) Snapshot() []Info {
	c.mu.RLock()
	list := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.RUnlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Handle < infos[j].Handle
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of sessions in the table
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Reap disconnects sessions idle for longer than the idle timeout
func (c *Coordinator) Reap(now time.Time) []string {
	if c.config.IdleTimeout <= 0 {
		return nil
	}

	c.mu.RLock()
	list := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.RUnlock()

	var reaped []string
	for _, s := range list {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		s.mu.Unlock()

		if idle < c.config.IdleTimeout {
			continue
		}
		if c.Disconnect(s.handle) {
			slog.Info("Idle session reaped", "sessionId", s.handle, "clientId", s.clientID, "idle", idle)
			reaped = append(reaped, s.handle)
		}
	}
	return reaped
}

// Close disconnects every session (shutdown)
func (c *Coordinator) Close() {
	c.mu.RLock()
	handles := make([]string, 0, len(c.sessions))
	for handle := range c.sessions {
		handles = append(handles, handle)
	}
	c.mu.RUnlock()

	for _, handle := range handles {
		c.Disconnect(handle)
	}
	slog.Info("Session coordinator closed", "disconnected", len(handles))
}

func (c *Coordinator) get(handle string) (*session, error) {
	c.mu.RLock()
	s, ok := c.sessions[handle]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return s, nil
}

// checkStartable (s.mu held)
func (c *Coordinator) checkStartable(s *session) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateConnected {
		return fmt.Errorf("%w: session_start in state %s", ErrProtocol, s.state)
	}
	return nil
}

// classify never fails; unknown content is forwarded unclassified
func (c *Coordinator) classify(name string) (string, mime.Category) {
	if name == "" {
		return "", mime.Unclassified
	}
	ext := path.Ext(name)
	if ext == "" {
		ext = name
	}
	mimeType, category, ok := c.mimes.Classify(ext)
	if !ok {
		slog.Debug("Unclassified media", "name", name)
	}
	return mimeType, category
}

func (c *Coordinator) resolveSink(target string) (receiver.SinkBinding, error) {
	if c.registry == nil {
		return receiver.SinkBinding{}, fmt.Errorf("%w: no receiver registry", ErrReceiverUnavailable)
	}
	if target == "" {
		binding, ok := c.registry.First()
		if !ok {
			return receiver.SinkBinding{}, fmt.Errorf("%w: no receiver discovered", ErrReceiverUnavailable)
		}
		return binding, nil
	}

	key, err := receiver.ParseKey(target)
	if err != nil {
		return receiver.SinkBinding{}, fmt.Errorf("%w: bad receiver %q: %v", ErrProtocol, target, err)
	}
	binding, ok := c.registry.Binding(key)
	if !ok {
		return receiver.SinkBinding{}, fmt.Errorf("%w: %s", ErrReceiverUnavailable, key)
	}
	return binding, nil
}

// drain forwards queued chunks FIFO until the session reaches a terminal state
func (c *Coordinator) drain(s *session) {
	defer close(s.drained)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.state.Terminal() {
				s.mu.Unlock()
				return
			}
			wait := s.changed
			s.mu.Unlock()
			<-wait
			s.mu.Lock()
		}

		chunk := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.buffered -= len(chunk)
		s.inflight = len(chunk)
		snk := s.sink
		s.mu.Unlock()

		err := snk.Forward(chunk)

		s.mu.Lock()
		s.inflight = 0
		failed := false
		if err != nil {
			failed = s.fail(fmt.Errorf("%w: %v", ErrReceiverUnavailable, err))
		} else {
			s.forwarded += uint64(len(chunk))
			s.broadcast()
		}
		s.mu.Unlock()

		if failed {
			slog.Error("Session lost its receiver", "sessionId", s.handle, "receiver", s.receiver.String(), "err", err)
			// discovery가 다음 세션 전에 바인딩을 정리하도록 즉시 보고
			if r, ok := snk.(sink.HealthReporter); ok {
				r.MarkUnhealthy(err)
			}
			c.finish(s)
		}
	}
}

// flush waits for the drainer to empty the buffer, then ends the session
func (c *Coordinator) flush(ctx context.Context, s *session) error {
	s.mu.Lock()
	flushTimeout := s.flushTimeout
	s.mu.Unlock()

	var timeout <-chan time.Time
	if flushTimeout > 0 {
		timer := time.NewTimer(flushTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			return ErrSessionClosed
		}
		if s.state == StateFailed {
			err := s.failErr
			s.mu.Unlock()
			return err
		}
		if s.flushed() {
			s.state = StateEnded
			s.endedAt = time.Now()
			s.broadcast()
			received, declared, forwarded := s.received, s.declared, s.forwarded
			s.mu.Unlock()

			if received < declared {
				slog.Warn("Session ended short of declared size", "sessionId", s.handle, "received", received, "declared", declared)
			}
			slog.Info("Session transfer ended", "sessionId", s.handle, "forwarded", forwarded)
			c.finish(s)
			return nil
		}

		wait := s.changed
		s.mu.Unlock()

		var expired error
		select {
		case <-wait:
		case <-timeout:
			expired = fmt.Errorf("%w: flush did not complete in %s", ErrTimeout, flushTimeout)
		case <-ctx.Done():
			expired = fmt.Errorf("%w: flush interrupted: %v", ErrTimeout, ctx.Err())
		}

		s.mu.Lock()
		if expired != nil && !s.flushed() {
			failed := s.fail(expired)
			s.mu.Unlock()
			if failed {
				slog.Warn("Session failed", "sessionId", s.handle, "err", expired)
				c.finish(s)
			}
			return expired
		}
	}
}

// finish runs once a session turned Ended or Failed: the handle stays in the
// table (later calls get ErrProtocol) but the client id is free again.
func (c *Coordinator) finish(s *session) {
	c.unsubscribe(s)

	c.mu.Lock()
	if c.clients[s.clientID] == s.handle {
		delete(c.clients, s.clientID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) unsubscribe(s *session) {
	if c.publisher != nil && s.subscriber != nil {
		c.publisher.Unsubscribe(s.handle)
	}
}

// recordOf builds the journal record (s.mu held)
func (c *Coordinator) recordOf(s *session) Record {
	r := Record{
		Handle:    s.handle,
		ClientID:  s.clientID,
		State:     s.state.String(),
		Name:      s.name,
		MimeType:  s.mimeType,
		Declared:  s.declared,
		Received:  s.received,
		Forwarded: s.forwarded,
		StartedAt: s.createdAt,
		EndedAt:   s.endedAt,
	}
	if s.sink != nil {
		r.Category = s.category.String()
		r.Receiver = s.receiver.String()
	}
	if s.failErr != nil {
		r.Error = s.failErr.Error()
	}
	return r
}

func isCapacity(err error) bool {
	return KindOf(err) == KindCapacity
}
