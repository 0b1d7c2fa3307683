package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

type chanTransport struct {
	writes chan string
	fail   atomic.Bool
}

func newChanTransport() *chanTransport {
	return &chanTransport{writes: make(chan string, 256)}
}

func (c *chanTransport) Write(p []byte) error {
	if c.fail.Load() {
		return errors.New("broken pipe")
	}
	c.writes <- string(p)
	return nil
}

func (c *chanTransport) next(t *testing.T) string {
	t.Helper()
	select {
	case w := <-c.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
	}
	return ""
}

func decodeSSE(t *testing.T, frame string) messages.StreamEvent {
	t.Helper()
	if !strings.HasPrefix(frame, "data: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("not an SSE data frame: %q", frame)
	}
	var e messages.StreamEvent
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return e
}

// countingBus records how many times each subscription is released.
type countingBus struct {
	*Bus
	mu     sync.Mutex
	unsubs int
}

func (c *countingBus) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	c.unsubs++
	c.mu.Unlock()
	c.Bus.Unsubscribe(sub)
}

func (c *countingBus) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubs
}

func runSession(s *Session) chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("session stuck in %s, want %s", s.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSessionSendsSnapshotThenUpdates(t *testing.T) {
	bus := newTestBus(10)
	_, _ = bus.Publish(reading("door-1", entities.KindDoor, messages.BoolValue(true)))

	out := newChanTransport()
	s := NewSession(bus, out, SessionConfig{}, zaptest.NewLogger(t), nil)
	if s.State() != StateConnecting {
		t.Fatalf("new session must be connecting, is %s", s.State())
	}
	done := runSession(s)

	first := decodeSSE(t, out.next(t))
	if first.Event != messages.EventUpdate || first.Data.ID != "door-1" {
		t.Fatalf("expected snapshot update for door-1, got %+v", first)
	}
	waitState(t, s, StateStreaming)

	_, _ = bus.Publish(reading("temp-1", entities.KindTemperature, messages.NumberValue(22.5)))
	second := decodeSSE(t, out.next(t))
	if v, _ := second.Data.Value.Number(); second.Data.ID != "temp-1" || v != 22.5 {
		t.Fatalf("unexpected event %+v", second)
	}

	s.Close()
	if err := <-done; err != nil {
		t.Fatalf("clean close returned %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
	if bus.Len() != 0 {
		t.Fatal("closed session left its subscription behind")
	}
}

func TestSessionUnsubscribesExactlyOnce(t *testing.T) {
	bus := &countingBus{Bus: newTestBus(10)}
	s := NewSession(bus, newChanTransport(), SessionConfig{}, zaptest.NewLogger(t), nil)
	done := runSession(s)
	waitState(t, s, StateStreaming)

	s.Close()
	s.Close()
	<-done
	s.Close()
	if n := bus.count(); n != 1 {
		t.Fatalf("expected exactly one unsubscribe, got %d", n)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("second run must be refused, got %v", err)
	}
}

func TestSessionClosesOnWriteFailure(t *testing.T) {
	bus := newTestBus(10)
	out := newChanTransport()
	s := NewSession(bus, out, SessionConfig{}, zaptest.NewLogger(t), nil)
	done := runSession(s)
	waitState(t, s, StateStreaming)

	out.fail.Store(true)
	_, _ = bus.Publish(reading("m1", entities.KindMotion, messages.NumberValue(1)))

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "broken pipe") {
			t.Fatalf("expected the write error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session survived a failed write")
	}
	if s.State() != StateClosed || bus.Len() != 0 {
		t.Fatalf("expected closed session and no subscribers, state=%s subs=%d", s.State(), bus.Len())
	}
}

func TestSessionEndsWhenContextIsCancelled(t *testing.T) {
	bus := newTestBus(10)
	s := NewSession(bus, newChanTransport(), SessionConfig{}, zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitState(t, s, StateStreaming)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil on disconnect, got %v", err)
	}
	if bus.Len() != 0 {
		t.Fatal("subscription leaked after disconnect")
	}
}

type blockingTransport struct{ release chan struct{} }

func (b *blockingTransport) Write([]byte) error {
	<-b.release
	return nil
}

func TestSessionEvictedWhenClientStalls(t *testing.T) {
	bus := newTestBus(1)
	out := &blockingTransport{release: make(chan struct{})}
	s := NewSession(bus, out, SessionConfig{}, zaptest.NewLogger(t), nil)
	done := runSession(s)
	waitState(t, s, StateStreaming)

	// the first event blocks the writer, the next fills the queue, the third evicts
	for i := 0; i < 3; i++ {
		_, _ = bus.Publish(reading("m1", entities.KindMotion, messages.NumberValue(float64(i))))
		time.Sleep(10 * time.Millisecond)
	}
	if bus.Len() != 0 {
		t.Fatalf("stalled session was not evicted, %d subscribers", bus.Len())
	}
	close(out.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrEvicted) {
			t.Fatalf("expected ErrEvicted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("evicted session did not end")
	}
}

func TestSessionHeartbeat(t *testing.T) {
	bus := newTestBus(10)
	out := newChanTransport()
	s := NewSession(bus, out, SessionConfig{HeartbeatInterval: 5 * time.Millisecond}, zaptest.NewLogger(t), nil)
	done := runSession(s)
	defer func() {
		s.Close()
		<-done
	}()

	if w := out.next(t); w != ": keepalive\n\n" {
		t.Fatalf("expected a keepalive comment, got %q", w)
	}
}

func TestSessionClosedBeforeRun(t *testing.T) {
	bus := &countingBus{Bus: newTestBus(10)}
	s := NewSession(bus, newChanTransport(), SessionConfig{}, zaptest.NewLogger(t), nil)
	s.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if s.State() != StateClosed || bus.count() != 0 || bus.Len() != 0 {
		t.Fatalf("session closed before run must not subscribe, state=%s", s.State())
	}
}

func TestEncodeEvent(t *testing.T) {
	r := reading("door-1", entities.KindDoor, messages.BoolValue(true))
	b, err := EncodeEvent(messages.Update(r))
	if err != nil {
		t.Fatal(err)
	}
	want := `data: {"event":"update","data":{"id":"door-1","type":"door","value":true,"timestamp":"2020-01-01T00:00:00Z","status":"active"}}` + "\n\n"
	if string(b) != want {
		t.Fatalf("unexpected frame:\n got %q\nwant %q", b, want)
	}
}
