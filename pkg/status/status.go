package status

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrInvalidState      = errors.New("invalid playback state")
	ErrNotSubscribed     = errors.New("subscriber not found")
	ErrAlreadySubscribed = errors.New("subscriber already registered")
	ErrPublisherStopped  = errors.New("publisher stopped")
)

// State 재생 엔진 상태
type State string

const (
	StateStopped   State = "stopped"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateBuffering State = "buffering"
)

// Valid reports whether s is a known playback state
func (s State) Valid() bool {
	switch s {
	case StateStopped, StatePlaying, StatePaused, StateBuffering:
		return true
	}
	return false
}

// PlaybackStatus is a snapshot produced by the playback engine.
// It is broadcast data and is never mutated after Publish.
type PlaybackStatus struct {
	State     State         `json:"state"`
	Title     string        `json:"title,omitempty"`
	Artist    string        `json:"artist,omitempty"`
	Album     string        `json:"album,omitempty"`
	Duration  time.Duration `json:"duration"`
	Position  time.Duration `json:"position"`
	Volume    int           `json:"volume"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate checks state and numeric ranges
func (s PlaybackStatus) Validate() error {
	if !s.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, s.State)
	}
	if s.Duration < 0 || s.Position < 0 {
		return fmt.Errorf("%w: negative duration or position", ErrInvalidState)
	}
	if s.Volume < 0 || s.Volume > 100 {
		return fmt.Errorf("%w: volume %d out of range", ErrInvalidState, s.Volume)
	}
	return nil
}

// Stopped returns the initial snapshot
func Stopped() PlaybackStatus {
	return PlaybackStatus{State: StateStopped}
}

// Subscriber receives status snapshots (MediaStatusCallback)
type Subscriber interface {
	PushStatus(s PlaybackStatus) error
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(s PlaybackStatus) error

// PushStatus calls f
func (f SubscriberFunc) PushStatus(s PlaybackStatus) error {
	return f(s)
}
