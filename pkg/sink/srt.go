package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	gosrt "github.com/datarhei/gosrt"
)

// maxPayload live 모드 SRT 패킷당 최대 페이로드
const maxPayload = 1316

// SRTConfig SRT 싱크 설정
type SRTConfig struct {
	Latency          time.Duration
	ConnectTimeout   time.Duration
	StreamID         string
	FailureThreshold int
}

// DefaultSRTConfig returns the default sink transport settings
func DefaultSRTConfig() SRTConfig {
	return SRTConfig{
		Latency:          120 * time.Millisecond,
		ConnectTimeout:   3 * time.Second,
		FailureThreshold: DefaultFailureThreshold,
	}
}

// SRTFactory dials receivers over SRT
type SRTFactory struct {
	config SRTConfig
	dial   func(address string, config gosrt.Config) (gosrt.Conn, error)
}

// NewSRTFactory creates a sink factory backed by gosrt
func NewSRTFactory(config SRTConfig) *SRTFactory {
	return &SRTFactory{
		config: config,
		dial: func(address string, config gosrt.Config) (gosrt.Conn, error) {
			return gosrt.Dial("srt", address, config)
		},
	}
}

// New dials the receiver and returns a bound sink
func (f *SRTFactory) New(ctx context.Context, p Params, onUnhealthy HealthHook) (Sink, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	config := gosrt.DefaultConfig()
	config.TransmissionType = "live"
	if f.config.Latency > 0 {
		config.Latency = f.config.Latency
	}
	if f.config.ConnectTimeout > 0 {
		config.ConnectionTimeout = f.config.ConnectTimeout
	}
	if f.config.StreamID != "" {
		config.StreamId = f.config.StreamID
	}

	conn, err := f.dial(p.Address(), config)
	if err != nil {
		return nil, fmt.Errorf("dial srt %s: %w", p.Address(), err)
	}

	s := newSRTSink(p, f.config.FailureThreshold, onUnhealthy, conn)
	slog.Info("SRT sink connected", "sinkId", s.ID(), "receiver", p.Address())
	return s, nil
}

// SRTSink forwards chunks to one receiver over an SRT connection
type SRTSink struct {
	*BaseSink

	mu   sync.Mutex // 쓰기 직렬화 (청크 단위 순서 보장)
	conn io.WriteCloser
}

func newSRTSink(p Params, threshold int, hook HealthHook, conn io.WriteCloser) *SRTSink {
	return &SRTSink{
		BaseSink: NewBaseSink(p, threshold, hook),
		conn:     conn,
	}
}

// Forward writes chunk to the receiver, split into live-mode packets
func (s *SRTSink) Forward(chunk []byte) error {
	if err := s.Ready(); err != nil {
		return err
	}
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	written := 0
	var err error
	for written < len(chunk) {
		end := written + maxPayload
		if end > len(chunk) {
			end = len(chunk)
		}
		var n int
		n, err = s.conn.Write(chunk[written:end])
		written += n
		if err != nil {
			break
		}
	}
	s.mu.Unlock()

	return s.Track(written, err)
}

// Close closes the SRT connection
func (s *SRTSink) Close() error {
	if !s.MarkClosed() {
		return nil
	}

	slog.Info("SRT sink closed", "sinkId", s.ID(), "receiver", s.Params().Address(), "forwarded", s.Forwarded())
	return s.conn.Close()
}
