package receiver

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"castd/pkg/sink"
)

type stubSink struct {
	*sink.BaseSink
}

func (s *stubSink) Forward([]byte) error { return nil }
func (s *stubSink) Close() error         { return nil }

func newStub(r Receiver) *stubSink {
	return &stubSink{BaseSink: sink.NewBaseSink(r.SinkParams(), 0, nil)}
}

func TestBindAndGet(t *testing.T) {
	reg := NewRegistry()
	rcv := Receiver{Address: "192.168.0.10", Port: 4004, Name: "Living room"}
	s := newStub(rcv)

	binding, err := reg.Bind(rcv, s)
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if binding.SinkID != s.ID() {
		t.Errorf("binding sink id = %q, want %q", binding.SinkID, s.ID())
	}
	if binding.Params != (sink.Params{IP: "192.168.0.10", Port: 4004}) {
		t.Errorf("binding params = %+v", binding.Params)
	}

	got, ok := reg.Get(rcv.Key())
	if !ok {
		t.Fatal("receiver not found")
	}
	if got.Name != "Living room" || got.LastSeen.IsZero() || got.FirstSeen.IsZero() {
		t.Errorf("unexpected receiver: %+v", got)
	}
}

func TestBindRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	rcv := Receiver{Address: "192.168.0.10", Port: 4004}

	if _, err := reg.Bind(rcv, newStub(rcv)); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if _, err := reg.Bind(rcv, newStub(rcv)); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("expected ErrAlreadyBound, got %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 receiver, got %d", reg.Len())
	}

	if _, err := reg.Bind(Receiver{Address: "192.168.0.11", Port: 4004}, nil); !errors.Is(err, ErrNilSink) {
		t.Errorf("expected ErrNilSink, got %v", err)
	}
}

func TestTouchAndRemove(t *testing.T) {
	reg := NewRegistry()
	rcv := Receiver{Address: "192.168.0.10", Port: 4004, Name: "old"}
	s := newStub(rcv)
	if _, err := reg.Bind(rcv, s); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}

	seen := time.Now().Add(time.Minute)
	if !reg.Touch(rcv.Key(), "new", seen) {
		t.Fatal("Touch() should find the receiver")
	}
	got, _ := reg.Get(rcv.Key())
	if got.Name != "new" || !got.LastSeen.Equal(seen) {
		t.Errorf("Touch() did not update: %+v", got)
	}

	if _, ok := reg.RemoveSink(rcv.Key(), "other-sink"); ok {
		t.Error("RemoveSink() with a stale sink id must not remove")
	}

	binding, ok := reg.Remove(rcv.Key())
	if !ok || binding.Sink != sink.Sink(s) {
		t.Errorf("Remove() = %+v, %v", binding, ok)
	}
	if reg.Touch(rcv.Key(), "", seen) {
		t.Error("Touch() on removed receiver should fail")
	}
}

func TestOrderingAndFirst(t *testing.T) {
	reg := NewRegistry()
	for _, r := range []Receiver{
		{Address: "10.0.0.3", Port: 1},
		{Address: "10.0.0.1", Port: 2},
		{Address: "10.0.0.1", Port: 1},
	} {
		if _, err := reg.Bind(r, newStub(r)); err != nil {
			t.Fatalf("Bind() error: %v", err)
		}
	}

	keys := reg.Keys()
	want := []string{"10.0.0.1:1", "10.0.0.1:2", "10.0.0.3:1"}
	for i, k := range keys {
		if k.String() != want[i] {
			t.Errorf("Keys()[%d] = %s, want %s", i, k, want[i])
		}
	}

	first, ok := reg.First()
	if !ok || first.Receiver.String() != "10.0.0.1:1" {
		t.Errorf("First() = %+v, %v", first, ok)
	}

	if got := len(reg.Drain()); got != 3 {
		t.Errorf("Drain() returned %d bindings", got)
	}
	if _, ok := reg.First(); ok {
		t.Error("First() on empty registry should fail")
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("192.168.1.5:4004")
	if err != nil || k != (Key{Address: "192.168.1.5", Port: 4004}) {
		t.Errorf("ParseKey() = %+v, %v", k, err)
	}
	if _, err := ParseKey("nohost"); err == nil {
		t.Error("expected error for missing port")
	}
	if _, err := ParseKey("host:99999"); err == nil {
		t.Error("expected error for out of range port")
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := Receiver{Address: fmt.Sprintf("10.0.1.%d", i), Port: 4004}
			if _, err := reg.Bind(r, newStub(r)); err != nil {
				t.Errorf("Bind() error: %v", err)
			}
			reg.Touch(r.Key(), "", time.Now())
			_ = reg.List()
			_, _ = reg.First()
		}(i)
	}
	wg.Wait()

	if reg.Len() != 20 {
		t.Errorf("expected 20 receivers, got %d", reg.Len())
	}
}
