package sink

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// Common errors
var (
	ErrSinkClosed    = errors.New("sink is closed")
	ErrSinkUnhealthy = errors.New("sink lost its receiver")
	ErrInvalidParams = errors.New("invalid sink parameters")
)

// Params 싱크 생성 파라미터 ({ip, port})
type Params struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Address returns host:port
func (p Params) Address() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(int(p.Port)))
}

// Validate checks that the parameters name a reachable endpoint
func (p Params) Validate() error {
	if p.IP == "" || p.Port == 0 {
		return ErrInvalidParams
	}
	return nil
}

// HealthHook is invoked once when a sink decides its receiver is gone
type HealthHook func(sinkID string, p Params)

// Sink forwards media chunks to exactly one receiver.
// Forward never retries internally; a chunk is either written once or the
// call returns an error.
type Sink interface {
	ID() string
	Params() Params
	Forward(chunk []byte) error
	Healthy() bool
	Close() error
}

// HealthReporter is implemented by sinks whose consumer may declare the
// receiver lost (BaseSink provides it)
type HealthReporter interface {
	MarkUnhealthy(reason error) bool
}

// Factory creates sinks for receivers
type Factory interface {
	New(ctx context.Context, p Params, onUnhealthy HealthHook) (Sink, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, p Params, onUnhealthy HealthHook) (Sink, error)

// New calls f
func (f FactoryFunc) New(ctx context.Context, p Params, onUnhealthy HealthHook) (Sink, error) {
	return f(ctx, p, onUnhealthy)
}
