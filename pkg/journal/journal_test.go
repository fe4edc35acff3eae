package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"castd/pkg/receiver"
	"castd/pkg/session"
)

func openMemory(t *testing.T) *Journal {
	t.Helper()
	j, err := Open("sqlite://:memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite://castd.db", "sqlite3", "castd.db", false},
		{"sqlite3://:memory:", "sqlite3", ":memory:", false},
		{"postgres://u:p@localhost/castd?sslmode=disable", "postgres", "postgres://u:p@localhost/castd?sslmode=disable", false},
		{"postgresql://localhost/castd", "postgres", "postgresql://localhost/castd", false},
		{"mysql://localhost/castd", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := parseURL(tt.url)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedURL) {
					t.Errorf("expected ErrUnsupportedURL, got %v", err)
				}
				return
			}
			if err != nil || driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("parseURL() = %q, %q, %v", driver, dsn, err)
			}
		})
	}
}

func TestDisabledJournal(t *testing.T) {
	j, err := Open("")
	if err != nil || j != nil {
		t.Fatalf("Open(\"\") = %v, %v", j, err)
	}

	ctx := context.Background()
	if err := j.RecordReceiver(ctx, "added", receiver.Receiver{}); err != nil {
		t.Errorf("RecordReceiver() on nil journal: %v", err)
	}
	if err := j.RecordSession(ctx, session.Record{}); err != nil {
		t.Errorf("RecordSession() on nil journal: %v", err)
	}
	if rows, err := j.RecentSessions(ctx, 10); err != nil || len(rows) != 0 {
		t.Errorf("RecentSessions() on nil journal = %v, %v", rows, err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("Close() on nil journal: %v", err)
	}
}

func TestRecordSession(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	for i, state := range []string{"ended", "failed"} {
		err := j.RecordSession(ctx, session.Record{
			Handle:    "h" + state,
			ClientID:  "nc1",
			State:     state,
			Name:      "song.mp3",
			MimeType:  "audio/mpeg",
			Category:  "audio",
			Receiver:  "10.0.0.1:4004",
			Declared:  1024,
			Received:  uint64(1024 - i*24),
			Forwarded: uint64(1024 - i*24),
			StartedAt: started,
			EndedAt:   started.Add(time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordSession() error: %v", err)
		}
	}

	rows, err := j.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSessions() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].State != "failed" || rows[1].State != "ended" {
		t.Errorf("rows not newest first: %s, %s", rows[0].State, rows[1].State)
	}
	if rows[1].Declared != 1024 || rows[1].Receiver != "10.0.0.1:4004" || !rows[1].StartedAt.Equal(started) {
		t.Errorf("unexpected row: %+v", rows[1])
	}

	limited, _ := j.RecentSessions(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d rows", len(limited))
	}
}

func TestRecordReceiver(t *testing.T) {
	j := openMemory(t)
	ctx := context.Background()

	r := receiver.Receiver{Address: "10.0.0.1", Port: 4004, Name: "Living room"}
	for _, event := range []string{"added", "unhealthy", "added", "removed"} {
		if err := j.RecordReceiver(ctx, event, r); err != nil {
			t.Fatalf("RecordReceiver() error: %v", err)
		}
	}

	events, err := j.ReceiverEvents(ctx, 0)
	if err != nil {
		t.Fatalf("ReceiverEvents() error: %v", err)
	}
	if len(events) != 4 || events[0].Event != "removed" || events[0].Port != 4004 || events[0].Name != "Living room" {
		t.Errorf("unexpected events: %+v", events)
	}
}
