package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "session_created", Success: true})
	}
	d.Close()

	got := 0
	for {
		select {
		case <-sink.Events():
			got++
			continue
		default:
		}
		break
	}
	if got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	if len(sink.Events()) != 0 {
		t.Fatal("expected emit after close to be ignored")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(ctx context.Context, event Event) {
	<-s.release
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		d.Emit(context.Background(), Event{EventType: "rate_limited"})
	}
	close(sink.release)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events once the buffer filled")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "session_evicted", UserID: "u1", SessionID: "s1"})

	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventType != "session_evicted" || decoded.SessionID != "s1" {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "session_created", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "csrf_rejected", Error: "invalid CSRF token"})

	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "event=session_created") {
		t.Fatalf("expected info record for success, got:\n%s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "event=csrf_rejected") {
		t.Fatalf("expected warn record for failure, got:\n%s", out)
	}
}

type panickingSink struct {
	delivered chan string
}

func (s panickingSink) Emit(ctx context.Context, event Event) {
	if event.EventType == "boom" {
		panic("sink failure")
	}
	s.delivered <- event.EventType
}

func TestDispatcherSurvivesSinkPanic(t *testing.T) {
	sink := panickingSink{delivered: make(chan string, 4)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)

	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "session_created"})
	d.Close()

	if got := d.SinkPanics(); got != 1 {
		t.Fatalf("expected 1 sink panic, got %d", got)
	}
	select {
	case got := <-sink.delivered:
		if got != "session_created" {
			t.Fatalf("unexpected delivered event %q", got)
		}
	default:
		t.Fatal("expected the event after the panic to be delivered")
	}
	if d.Pending() != 0 {
		t.Fatalf("expected empty queue after close, got %d", d.Pending())
	}
}

type ctxKey struct{}

type contextSink struct {
	values chan any
}

func (s contextSink) Emit(ctx context.Context, event Event) {
	s.values <- ctx.Value(ctxKey{})
}

func TestDispatcherKeepsContextValuesAfterCancel(t *testing.T) {
	sink := contextSink{values: make(chan any, 1)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-42"))
	d.Emit(ctx, Event{EventType: "rate_limited"})
	cancel()
	d.Close()

	if got := <-sink.values; got != "req-42" {
		t.Fatalf("expected request value to reach the sink, got %v", got)
	}
}
