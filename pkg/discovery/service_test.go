package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"castd/pkg/receiver"
	"castd/pkg/scheduler"
	"castd/pkg/sink"
)

// fakeSink records whether it was closed
type fakeSink struct {
	*sink.BaseSink
	mu     sync.Mutex
	closed bool
}

func (s *fakeSink) Forward([]byte) error { return nil }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeFactory counts sink creations and can refuse receivers
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeSink
	refuse  map[sink.Params]bool
	hooks   map[string]sink.HealthHook
}

func (f *fakeFactory) New(_ context.Context, p sink.Params, hook sink.HealthHook) (sink.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse[p] {
		return nil, errors.New("resource exhausted")
	}
	s := &fakeSink{BaseSink: sink.NewBaseSink(p, 1, hook)}
	f.created = append(f.created, s)
	if f.hooks == nil {
		f.hooks = make(map[string]sink.HealthHook)
	}
	f.hooks[s.ID()] = hook
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// staticQuerier returns whatever is currently set
type staticQuerier struct {
	mu   sync.Mutex
	anns []Announcement
	err  error
}

func (q *staticQuerier) set(anns ...Announcement) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.anns = anns
	q.err = nil
}

func (q *staticQuerier) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

func (q *staticQuerier) Query(context.Context) ([]Announcement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	return append([]Announcement(nil), q.anns...), nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *memRecorder) RecordReceiver(_ context.Context, event string, rcv receiver.Receiver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event+" "+rcv.Key().String())
	return nil
}

var (
	annA = Announcement{Address: "10.0.0.1", Port: 4004, Name: "A"}
	annB = Announcement{Address: "10.0.0.2", Port: 4004, Name: "B"}
	annC = Announcement{Address: "10.0.0.3", Port: 4004, Name: "C"}
)

func newTestService() (*Service, *staticQuerier, *fakeFactory, *receiver.Registry) {
	q := &staticQuerier{}
	f := &fakeFactory{}
	reg := receiver.NewRegistry()
	svc := NewService(Config{Interval: time.Hour, QueryTimeout: time.Second}, q, reg, f, nil)
	return svc, q, f, reg
}

func TestReconcileIdempotent(t *testing.T) {
	svc, q, f, reg := newTestService()
	q.set(annA, annB)

	first, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(first.Added) != 2 || f.count() != 2 {
		t.Fatalf("first pass added %d, created %d", len(first.Added), f.count())
	}

	second, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if second.Changed() {
		t.Errorf("second pass changed bindings: %+v", second)
	}
	if len(second.Refreshed) != 2 {
		t.Errorf("expected 2 refreshed, got %d", len(second.Refreshed))
	}
	if f.count() != 2 || reg.Len() != 2 {
		t.Errorf("sink churn on unchanged list: created=%d registry=%d", f.count(), reg.Len())
	}
	if svc.Passes() != 2 {
		t.Errorf("Passes() = %d", svc.Passes())
	}
}

func TestReconcileDiff(t *testing.T) {
	svc, q, f, reg := newTestService()
	q.set(annA, annB)
	if _, err := svc.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	bBefore, _ := reg.Binding(annB.Key())
	aBinding, _ := reg.Binding(annA.Key())

	q.set(annB, annC)
	result, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	if len(result.Removed) != 1 || result.Removed[0] != annA.Key() {
		t.Errorf("Removed = %v, want [A]", result.Removed)
	}
	if len(result.Added) != 1 || result.Added[0] != annC.Key() {
		t.Errorf("Added = %v, want [C]", result.Added)
	}
	if f.count() != 3 {
		t.Errorf("expected exactly one new sink, total created %d", f.count())
	}

	bAfter, ok := reg.Binding(annB.Key())
	if !ok || bAfter.SinkID != bBefore.SinkID {
		t.Errorf("B sink identity changed: %s -> %s", bBefore.SinkID, bAfter.SinkID)
	}
	if !aBinding.Sink.(*fakeSink).isClosed() {
		t.Error("A sink should be closed")
	}
	if _, ok := reg.Get(annA.Key()); ok {
		t.Error("A should be gone from the registry")
	}
}

func TestSinkFailureRetriedNextPass(t *testing.T) {
	svc, q, f, reg := newTestService()
	f.refuse = map[sink.Params]bool{{IP: "10.0.0.1", Port: 4004}: true}
	q.set(annA, annB)

	result, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].Receiver != annA.Key() {
		t.Errorf("Failed = %+v", result.Failed)
	}
	if len(result.Added) != 1 || reg.Len() != 1 {
		t.Errorf("B should still be bound, added=%v", result.Added)
	}

	f.mu.Lock()
	f.refuse = nil
	f.mu.Unlock()

	result, _ = svc.Reconcile(context.Background())
	if len(result.Added) != 1 || result.Added[0] != annA.Key() {
		t.Errorf("A should be retried and added, got %+v", result)
	}
}

func TestQueryErrors(t *testing.T) {
	svc, q, _, reg := newTestService()
	q.set(annA)
	_, _ = svc.Reconcile(context.Background())

	q.fail(errors.New("network unreachable"))
	if _, err := svc.Reconcile(context.Background()); err == nil {
		t.Error("expected error for failed query")
	}
	if reg.Len() != 1 {
		t.Error("failed query must leave registry untouched")
	}

	q.fail(ErrTimeout)
	result, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if len(result.Removed) != 1 || reg.Len() != 0 {
		t.Errorf("timeout should count as zero receivers: %+v", result)
	}
}

func TestReportUnhealthy(t *testing.T) {
	svc, q, f, reg := newTestService()
	rec := &memRecorder{}
	svc.recorder = rec
	q.set(annA)
	_, _ = svc.Reconcile(context.Background())

	binding, _ := reg.Binding(annA.Key())

	// 이미 교체된 싱크의 보고는 무시
	svc.ReportUnhealthy("stale", binding.Params)
	if reg.Len() != 1 {
		t.Fatal("stale report must not remove the receiver")
	}

	f.mu.Lock()
	hook := f.hooks[binding.SinkID]
	f.mu.Unlock()
	hook(binding.SinkID, binding.Params)

	if reg.Len() != 0 {
		t.Error("unhealthy receiver should be removed")
	}
	if !binding.Sink.(*fakeSink).isClosed() {
		t.Error("unhealthy sink should be closed")
	}

	result, _ := svc.Reconcile(context.Background())
	if len(result.Added) != 1 {
		t.Error("receiver should be re-created on the next pass")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"added 10.0.0.1:4004", "unhealthy 10.0.0.1:4004", "added 10.0.0.1:4004"}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v", rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, rec.events[i], want[i])
		}
	}
}

func TestRunWithScheduler(t *testing.T) {
	svc, q, _, reg := newTestService()
	q.set(annA, annB)

	sched := scheduler.New(context.Background())
	defer sched.Stop()

	if err := svc.Run(sched); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Len() != 2 {
		t.Fatalf("immediate pass did not bind receivers, registry=%d", reg.Len())
	}

	svc.Close()
	if reg.Len() != 0 {
		t.Error("Close() should drain the registry")
	}
}

func TestUDPQuerier(t *testing.T) {
	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer responder.Close()

	go func() {
		buf := make([]byte, 512)
		n, src, err := responder.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var msg queryMessage
		if json.Unmarshal(buf[:n], &msg) != nil || msg.Type != QueryType {
			return
		}
		replies := []any{
			Announcement{Port: 4004, Name: "tv"},
			Announcement{Port: 4004, Name: "tv"},
			Announcement{Address: "10.9.9.9", Port: 5000, Name: "speaker"},
			map[string]string{"name": "no port"},
		}
		for _, r := range replies {
			b, _ := json.Marshal(r)
			_, _ = responder.WriteToUDP(b, src)
		}
		_, _ = responder.WriteToUDP([]byte("not json"), src)
	}()

	port := responder.LocalAddr().(*net.UDPAddr).Port
	q := NewUDPQuerier("127.0.0.1", port, 300*time.Millisecond)

	anns, err := q.Query(context.Background())
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(anns) != 2 {
		t.Fatalf("expected 2 announcements, got %+v", anns)
	}
	if anns[0].Address != "127.0.0.1" || anns[0].Name != "tv" {
		t.Errorf("empty address should use source ip: %+v", anns[0])
	}
	if anns[1].Address != "10.9.9.9" {
		t.Errorf("explicit address should be kept: %+v", anns[1])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Query(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// syncBuffer is a goroutine-safe log sink
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBindLogsOnce(t *testing.T) {
	logs := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	svc, q, _, _ := newTestService()
	q.set(annA)
	if _, err := svc.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	out := logs.String()
	if n := strings.Count(out, "Receiver bound"); n != 1 {
		t.Fatalf("bind logged %d times:\n%s", n, out)
	}
	if !strings.Contains(out, "sinkType=") {
		t.Errorf("bind log lacks sinkType:\n%s", out)
	}
}
