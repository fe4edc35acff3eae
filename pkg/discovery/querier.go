package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"castd/pkg/receiver"
)

// QueryType is the type tag of the broadcast query datagram
const QueryType = "castd.query"

const maxDatagram = 2048

// Announcement 수신기가 쿼리에 응답한 내용
type Announcement struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Name    string `json:"name"`
}

// Key returns the registry key of the announcing receiver
func (a Announcement) Key() receiver.Key {
	return receiver.Key{Address: a.Address, Port: a.Port}
}

// Querier asks the network which receivers are currently advertising.
// An elapsed query window is not an error; it simply ends collection.
type Querier interface {
	Query(ctx context.Context) ([]Announcement, error)
}

// QuerierFunc adapts a function to Querier
type QuerierFunc func(ctx context.Context) ([]Announcement, error)

// Query calls f
func (f QuerierFunc) Query(ctx context.Context) ([]Announcement, error) {
	return f(ctx)
}

type queryMessage struct {
	Type string `json:"type"`
}

// UDPQuerier broadcasts one query datagram and collects replies until the
// query window closes
type UDPQuerier struct {
	broadcastAddr string
	port          int
	window        time.Duration
}

// NewUDPQuerier creates a broadcast querier
func NewUDPQuerier(broadcastAddr string, port int, window time.Duration) *UDPQuerier {
	return &UDPQuerier{
		broadcastAddr: broadcastAddr,
		port:          port,
		window:        window,
	}
}

// Query sends the broadcast and returns every distinct announcement received
func (q *UDPQuerier) Query(ctx context.Context) ([]Announcement, error) {
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(q.broadcastAddr, strconv.Itoa(q.port)))
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	payload, err := json.Marshal(queryMessage{Type: QueryType})
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(payload, dst); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(q.window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	// 컨텍스트 취소 시 읽기를 즉시 깨움
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	seen := make(map[receiver.Key]struct{})
	var found []Announcement
	buf := make([]byte, maxDatagram)

	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return nil, err
		}

		var ann Announcement
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			slog.Debug("Ignoring malformed announcement", "from", src.String(), "err", err)
			continue
		}
		if ann.Address == "" {
			ann.Address = src.IP.String()
		}
		if ann.Port == 0 {
			slog.Debug("Ignoring announcement without port", "from", src.String())
			continue
		}
		if _, dup := seen[ann.Key()]; dup {
			continue
		}
		seen[ann.Key()] = struct{}{}
		found = append(found, ann)
	}

	// 윈도우 만료가 아닌 외부 취소는 에러로 전달
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}
	return found, nil
}
