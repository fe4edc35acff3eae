package receiver

import (
	"errors"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"castd/pkg/sink"
)

// Common errors
var (
	ErrAlreadyBound = errors.New("receiver already has a sink binding")
	ErrNilSink      = errors.New("sink cannot be nil")
	ErrNotFound     = errors.New("receiver not found")
)

// Key identifies a receiver by network address and port
type Key struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// String returns host:port
func (k Key) String() string {
	return net.JoinHostPort(k.Address, strconv.Itoa(int(k.Port)))
}

// ParseKey parses host:port
func ParseKey(s string) (Key, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Key{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Key{}, err
	}
	return Key{Address: host, Port: uint16(port)}, nil
}

// Less orders keys by address then port
func (k Key) Less(o Key) bool {
	if k.Address != o.Address {
		return k.Address < o.Address
	}
	return k.Port < o.Port
}

// Receiver 네트워크에서 발견된 재생 장치
type Receiver struct {
	Address   string    `json:"address"`
	Port      uint16    `json:"port"`
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Key returns the receiver identity
func (r Receiver) Key() Key {
	return Key{Address: r.Address, Port: r.Port}
}

// SinkParams returns the sink instantiation parameters for this receiver
func (r Receiver) SinkParams() sink.Params {
	return sink.Params{IP: r.Address, Port: r.Port}
}

// SinkBinding relates one receiver to its running sink
type SinkBinding struct {
	Receiver Key         `json:"receiver"`
	SinkID   string      `json:"sink_id"`
	Params   sink.Params `json:"params"`
	BoundAt  time.Time   `json:"bound_at"`

	Sink sink.Sink `json:"-"`
}

type entry struct {
	receiver Receiver
	binding  SinkBinding
}

// Registry holds the known receivers and their sink bindings.
// A receiver is only present while it has exactly one live binding.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Key]*entry),
	}
}

// Bind adds a receiver together with its sink
func (r *Registry) Bind(rcv Receiver, s sink.Sink) (SinkBinding, error) {
	if s == nil {
		return SinkBinding{}, ErrNilSink
	}

	key := rcv.Key()
	now := time.Now()
	if rcv.LastSeen.IsZero() {
		rcv.LastSeen = now
	}
	if rcv.FirstSeen.IsZero() {
		rcv.FirstSeen = rcv.LastSeen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return SinkBinding{}, ErrAlreadyBound
	}

	binding := SinkBinding{
		Receiver: key,
		SinkID:   s.ID(),
		Params:   s.Params(),
		BoundAt:  now,
		Sink:     s,
	}
	r.entries[key] = &entry{receiver: rcv, binding: binding}
	return binding, nil
}

// Touch refreshes last-seen (and name) of a known receiver
func (r *Registry) Touch(key Key, name string, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.receiver.LastSeen = seen
	if name != "" {
		e.receiver.Name = name
	}
	return true
}

// Remove deletes a receiver and returns its binding.
// The caller closes the sink outside of the registry lock.
func (r *Registry) Remove(key Key) (SinkBinding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return SinkBinding{}, false
	}
	delete(r.entries, key)

	slog.Info("Receiver removed", "receiver", key.String(), "sinkId", e.binding.SinkID, "receiverCount", len(r.entries))
	return e.binding, true
}

// RemoveSink removes the receiver only if it is still bound to sinkID
func (r *Registry) RemoveSink(key Key, sinkID string) (SinkBinding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.binding.SinkID != sinkID {
		return SinkBinding{}, false
	}
	delete(r.entries, key)

	slog.Info("Receiver removed", "receiver", key.String(), "sinkId", sinkID, "receiverCount", len(r.entries))
	return e.binding, true
}

// Get returns a receiver by key
func (r *Registry) Get(key Key) (Receiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return Receiver{}, false
	}
	return e.receiver, true
}

// Binding returns the sink binding of a receiver
func (r *Registry) Binding(key Key) (SinkBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return SinkBinding{}, false
	}
	return e.binding, true
}

// First returns the binding with the lowest key
func (r *Registry) First() (SinkBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best  SinkBinding
		found bool
	)
	for key, e := range r.entries {
		if !found || key.Less(best.Receiver) {
			best = e.binding
			found = true
		}
	}
	return best, found
}

// Keys returns all receiver keys in order
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// List returns a copy of all receivers in key order
func (r *Registry) List() []Receiver {
	r.mu.RLock()
	list := make([]Receiver, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.receiver)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Key().Less(list[j].Key()) })
	return list
}

// Bindings returns a copy of all bindings in key order
func (r *Registry) Bindings() []SinkBinding {
	r.mu.RLock()
	list := make([]SinkBinding, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.binding)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Receiver.Less(list[j].Receiver) })
	return list
}

// Len returns the receiver count
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Drain removes every receiver and returns their bindings (shutdown path)
func (r *Registry) Drain() []SinkBinding {
	r.mu.Lock()
	list := make([]SinkBinding, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.binding)
	}
	r.entries = make(map[Key]*entry)
	r.mu.Unlock()

	slog.Info("All receivers drained", "count", len(list))
	return list
}
