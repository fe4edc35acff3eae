package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"castd/pkg/receiver"
	"castd/pkg/scheduler"
	"castd/pkg/sink"
	"castd/pkg/utils"
)

// TaskName is the scheduler task name of the reconciliation loop
const TaskName = "discovery"

// Common errors
var (
	ErrTimeout = errors.New("discovery query timed out")
)

// Receiver journal events
const (
	EventAdded     = "added"
	EventRemoved   = "removed"
	EventUnhealthy = "unhealthy"
)

// Recorder receives receiver lifecycle events (optional)
type Recorder interface {
	RecordReceiver(ctx context.Context, event string, r receiver.Receiver) error
}

// Config discovery 설정
type Config struct {
	Interval     time.Duration
	QueryTimeout time.Duration
}

// Failure is one receiver whose sink could not be created this pass
type Failure struct {
	Receiver receiver.Key `json:"receiver"`
	Error    string       `json:"error"`
}

// Result summarises one reconciliation pass
type Result struct {
	Added     []receiver.Key `json:"added"`
	Removed   []receiver.Key `json:"removed"`
	Refreshed []receiver.Key `json:"refreshed"`
	Failed    []Failure      `json:"failed"`
}

// Changed reports whether the pass created or tore down any sink
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Service keeps the receiver registry in line with what the network reports
type Service struct {
	config   Config
	querier  Querier
	registry *receiver.Registry
	factory  sink.Factory
	recorder Recorder

	passMu sync.Mutex // 한 번에 하나의 reconcile 패스만 실행
	passes atomic.Uint64
}

// NewService creates a discovery service. recorder may be nil.
func NewService(config Config, q Querier, reg *receiver.Registry, f sink.Factory, recorder Recorder) *Service {
	return &Service{
		config:   config,
		querier:  q,
		registry: reg,
		factory:  f,
		recorder: recorder,
	}
}

// Run registers the reconciliation loop: once now, then every interval
func (s *Service) Run(sched *scheduler.Scheduler) error {
	_, err := sched.Every(TaskName, s.config.Interval, true, func(ctx context.Context) {
		if _, err := s.Reconcile(ctx); err != nil {
			slog.Warn("Discovery pass skipped", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule discovery: %w", err)
	}

	slog.Info("Discovery started", "interval", s.config.Interval, "queryTimeout", s.config.QueryTimeout)
	return nil
}

// Passes returns the number of completed reconciliation passes
func (s *Service) Passes() uint64 {
	return s.passes.Load()
}

// Reconcile runs one query and diffs the answer against the registry.
// A query timeout counts as zero receivers; any other query error skips the
// pass and leaves the registry untouched.
func (s *Service) Reconcile(ctx context.Context) (Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	announcements, err := s.query(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	now := time.Now()

	wanted := make(map[receiver.Key]Announcement, len(announcements))
	for _, ann := range announcements {
		if _, dup := wanted[ann.Key()]; !dup {
			wanted[ann.Key()] = ann
		}
	}

	// 사라진 수신기 정리
	for _, key := range s.registry.Keys() {
		if _, ok := wanted[key]; ok {
			continue
		}
		if s.teardown(ctx, key, "", EventRemoved) {
			result.Removed = append(result.Removed, key)
		}
	}

	keys := make([]receiver.Key, 0, len(wanted))
	for key := range wanted {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, key := range keys {
		ann := wanted[key]

		if s.registry.Touch(key, ann.Name, now) {
			result.Refreshed = append(result.Refreshed, key)
			continue
		}

		if err := s.bind(ctx, ann, now); err != nil {
			// 다음 패스에서 재시도
			slog.Warn("Sink instantiation failed", "receiver", key.String(), "err", err)
			result.Failed = append(result.Failed, Failure{Receiver: key, Error: err.Error()})
			continue
		}
		result.Added = append(result.Added, key)
	}

	s.passes.Add(1)

	if result.Changed() || len(result.Failed) > 0 {
		slog.Info("Discovery reconciled",
			"added", len(result.Added),
			"removed", len(result.Removed),
			"refreshed", len(result.Refreshed),
			"failed", len(result.Failed))
	} else {
		slog.Debug("Discovery unchanged", "receivers", len(result.Refreshed))
	}

	return result, nil
}

// ReportUnhealthy tears down a binding whose sink lost its receiver.
// Reports from a sink that has already been replaced are ignored.
func (s *Service) ReportUnhealthy(sinkID string, p sink.Params) {
	key := receiver.Key{Address: p.IP, Port: p.Port}
	if s.teardown(context.Background(), key, sinkID, EventUnhealthy) {
		slog.Warn("Receiver dropped after sink failure", "receiver", key.String(), "sinkId", sinkID)
	}
}

// Close removes every receiver and closes their sinks
func (s *Service) Close() {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	for _, binding := range s.registry.Drain() {
		utils.CloseWithLog(binding.Sink, "sink", "receiver", binding.Receiver.String())
	}
}

func (s *Service) query(ctx context.Context) ([]Announcement, error) {
	qctx := ctx
	if s.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.config.QueryTimeout)
		defer cancel()
	}

	announcements, err := s.querier.Query(qctx)
	if err == nil {
		return announcements, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		slog.Info("Discovery query timed out, treating as no receivers")
		return nil, nil
	}
	return nil, fmt.Errorf("discovery query: %w", err)
}

// bind creates the sink outside the registry lock, then records the binding
func (s *Service) bind(ctx context.Context, ann Announcement, now time.Time) error {
	rcv := receiver.Receiver{
		Address:   ann.Address,
		Port:      ann.Port,
		Name:      ann.Name,
		FirstSeen: now,
		LastSeen:  now,
	}

	snk, err := s.factory.New(ctx, rcv.SinkParams(), s.ReportUnhealthy)
	if err != nil {
		return err
	}

	if _, err := s.registry.Bind(rcv, snk); err != nil {
		utils.CloseWithLog(snk, "sink", "receiver", rcv.Key().String())
		return err
	}

	slog.Info("Receiver bound", "receiver", rcv.Key().String(), "name", rcv.Name,
		"sinkId", snk.ID(), "sinkType", utils.TypeName(snk), "receiverCount", s.registry.Len())
	s.record(ctx, EventAdded, rcv)
	return nil
}

// teardown removes the receiver (optionally only if still bound to sinkID)
// and closes its sink after the registry lock is released
func (s *Service) teardown(ctx context.Context, key receiver.Key, sinkID, event string) bool {
	rcv, _ := s.registry.Get(key)

	var (
		binding receiver.SinkBinding
		ok      bool
	)
	if sinkID == "" {
		binding, ok = s.registry.Remove(key)
	} else {
		binding, ok = s.registry.RemoveSink(key, sinkID)
	}
	if !ok {
		return false
	}

	utils.CloseWithLog(binding.Sink, "sink", "receiver", key.String())
	s.record(ctx, event, rcv)
	return true
}

func (s *Service) record(ctx context.Context, event string, rcv receiver.Receiver) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordReceiver(ctx, event, rcv); err != nil {
		slog.Warn("Failed to journal receiver event", "event", event, "receiver", rcv.Key().String(), "err", err)
	}
}
