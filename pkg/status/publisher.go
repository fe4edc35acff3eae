package status

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// subscription 구독자별 우편함 (용량 1, 최신 스냅샷 우선)
type subscription struct {
	id      string
	sub     Subscriber
	mailbox chan struct{}
	done    chan struct{}

	sendMu   sync.Mutex
	lastSeq  uint64
	detached bool
}

// Publisher keeps the latest playback snapshot and fans it out to subscribers
type Publisher struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	latest  PlaybackStatus
	seq     uint64
	subs    map[string]*subscription
	stopped bool
}

// NewPublisher creates a publisher seeded with the stopped snapshot
func NewPublisher(parent context.Context) *Publisher {
	ctx, cancel := context.WithCancel(parent)
	return &Publisher{
		ctx:    ctx,
		cancel: cancel,
		latest: Stopped(),
		subs:   make(map[string]*subscription),
	}
}

// Subscribe registers a subscriber under id and starts its delivery worker
func (p *Publisher) Subscribe(id string, sub Subscriber) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPublisherStopped
	}
	if _, exists := p.subs[id]; exists {
		return ErrAlreadySubscribed
	}

	s := &subscription{
		id:      id,
		sub:     sub,
		mailbox: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	p.subs[id] = s

	p.wg.Add(1)
	go p.deliveryLoop(s)

	slog.Debug("Status subscriber added", "subscriberId", id, "subscriberCount", len(p.subs))
	return nil
}

// Unsubscribe removes a subscriber. After it returns no further snapshot is
// pushed to that subscriber.
func (p *Publisher) Unsubscribe(id string) bool {
	p.mu.Lock()
	s, ok := p.subs[id]
	if ok {
		delete(p.subs, id)
	}
	count := len(p.subs)
	p.mu.Unlock()

	if !ok {
		return false
	}
	p.detach(s)

	slog.Debug("Status subscriber removed", "subscriberId", id, "subscriberCount", count)
	return true
}

// Publish replaces the latest snapshot and notifies every subscriber.
// It never blocks on a subscriber.
func (p *Publisher) Publish(st PlaybackStatus) int {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = st
	p.seq++

	notified := 0
	for _, s := range p.subs {
		select {
		case s.mailbox <- struct{}{}:
		default:
			// 이미 대기 중인 알림이 있으면 최신 스냅샷으로 대체됨
		}
		notified++
	}

	slog.Debug("Status published", "state", st.State, "seq", p.seq, "subscribers", notified)
	return notified
}

// Deliver pushes the current snapshot to one subscriber synchronously
func (p *Publisher) Deliver(id string) error {
	p.mu.Lock()
	s, ok := p.subs[id]
	latest, seq := p.latest, p.seq
	p.mu.Unlock()

	if !ok {
		return ErrNotSubscribed
	}
	return p.send(s, latest, seq, true)
}

// Latest returns the current snapshot
func (p *Publisher) Latest() PlaybackStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Subscribers returns the subscriber count
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Stop detaches all subscribers and waits for delivery workers
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	subs := make([]*subscription, 0, len(p.subs))
	for id, s := range p.subs {
		subs = append(subs, s)
		delete(p.subs, id)
	}
	p.mu.Unlock()

	p.cancel()
	for _, s := range subs {
		p.detach(s)
	}
	p.wg.Wait()

	slog.Info("Status publisher stopped", "detached", len(subs))
}

func (p *Publisher) deliveryLoop(s *subscription) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-s.done:
			return
		case <-s.mailbox:
			p.mu.Lock()
			latest, seq := p.latest, p.seq
			p.mu.Unlock()

			_ = p.send(s, latest, seq, false)
		}
	}
}

// send pushes one snapshot unless the subscriber already has a newer one.
// force is used for the connect-time sync which must always deliver.
func (p *Publisher) send(s *subscription, st PlaybackStatus, seq uint64, force bool) error {
	s.sendMu.Lock()
	if s.detached {
		s.sendMu.Unlock()
		return ErrNotSubscribed
	}
	// 이미 더 새로운 스냅샷을 받았다면 건너뜀 (역순 전달 금지)
	if seq < s.lastSeq || (!force && seq == s.lastSeq) {
		s.sendMu.Unlock()
		return nil
	}

	err := s.sub.PushStatus(st)
	if err == nil {
		s.lastSeq = seq
	}
	s.sendMu.Unlock()

	if err != nil {
		slog.Warn("Status delivery failed, dropping subscriber", "subscriberId", s.id, "err", err)
		p.Unsubscribe(s.id)
		return err
	}
	return nil
}

// detach waits for an in-flight push and blocks all later ones
func (p *Publisher) detach(s *subscription) {
	s.sendMu.Lock()
	if !s.detached {
		s.detached = true
		close(s.done)
	}
	s.sendMu.Unlock()
}
