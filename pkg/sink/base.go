package sink

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultFailureThreshold consecutive forward failures before a sink is unhealthy
const DefaultFailureThreshold = 3

// BaseSink provides identity, health tracking and close state for concrete sinks
type BaseSink struct {
	id        string
	params    Params
	threshold int
	hook      HealthHook

	mu       sync.Mutex
	failures int
	healthy  bool
	closed   bool

	forwarded atomic.Uint64
}

// NewBaseSink creates a new base sink
func NewBaseSink(p Params, threshold int, hook HealthHook) *BaseSink {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	return &BaseSink{
		id:        uuid.NewString(),
		params:    p,
		threshold: threshold,
		hook:      hook,
		healthy:   true,
	}
}

// ID returns the sink instance id
func (s *BaseSink) ID() string {
	return s.id
}

// Params returns the receiver parameters
func (s *BaseSink) Params() Params {
	return s.params
}

// Healthy reports whether the sink still trusts its receiver
func (s *BaseSink) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// Forwarded returns the number of bytes written to the receiver
func (s *BaseSink) Forwarded() uint64 {
	return s.forwarded.Load()
}

// Ready returns an error when the sink must not forward anymore
func (s *BaseSink) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if !s.healthy {
		return ErrSinkUnhealthy
	}
	return nil
}

// Track records the outcome of one forward attempt.
// Reaching the failure threshold flips the sink to unhealthy and fires the
// health hook exactly once.
func (s *BaseSink) Track(n int, err error) error {
	if err == nil {
		s.forwarded.Add(uint64(n))
		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.failures++
	tripped := s.healthy && !s.closed && s.failures >= s.threshold
	if tripped {
		s.healthy = false
	}
	failures := s.failures
	s.mu.Unlock()

	slog.Warn("Sink forward failed", "sinkId", s.id, "receiver", s.params.Address(), "failures", failures, "err", err)

	if tripped {
		s.report("forward failures reached threshold")
	}

	return fmt.Errorf("forward to %s: %w", s.params.Address(), err)
}

// MarkUnhealthy lets the consumer declare the receiver lost without waiting
// for the failure threshold. The hook fires at most once per sink.
func (s *BaseSink) MarkUnhealthy(reason error) bool {
	s.mu.Lock()
	tripped := s.healthy && !s.closed
	if tripped {
		s.healthy = false
	}
	s.mu.Unlock()

	if tripped {
		s.report(reason.Error())
	}
	return tripped
}

func (s *BaseSink) report(reason string) {
	slog.Error("Sink marked unhealthy", "sinkId", s.id, "receiver", s.params.Address(), "reason", reason)
	if s.hook != nil {
		// 훅은 discovery 쪽 락을 잡으므로 별도 고루틴에서 호출
		go s.hook(s.id, s.params)
	}
}

// MarkClosed flips the sink to closed. It returns false if already closed.
func (s *BaseSink) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	return true
}
