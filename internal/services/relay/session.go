package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	ErrEvicted        = errors.New("session evicted: client too slow")
	ErrSessionStarted = errors.New("session already started")
)

var keepalive = []byte(": keepalive\n\n")

// Subscriber is the part of the bus a session needs.
type Subscriber interface {
	SubscribeWithSnapshot() (*Subscription, []messages.Reading)
	Unsubscribe(sub *Subscription)
}

// Transport delivers one encoded event to the client.
type Transport interface {
	Write(p []byte) error
}

type SessionConfig struct {
	// HeartbeatInterval is the period of keepalive comments. Zero disables them.
	HeartbeatInterval time.Duration
}

// Session pushes the event stream to one dashboard client.
type Session struct {
	id      string
	bus     Subscriber
	out     Transport
	cfg     SessionConfig
	log     *zap.Logger
	metrics *metrics.Metrics

	state   atomic.Int32
	started atomic.Bool
	closing chan struct{}
	once    sync.Once
}

func NewSession(bus Subscriber, out Transport, cfg SessionConfig, log *zap.Logger, m *metrics.Metrics) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		bus:     bus,
		out:     out,
		cfg:     cfg,
		log:     log.With(zap.String("session", id)),
		metrics: m,
		closing: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Close ends a running session. Safe to call at any time and more than once.
func (s *Session) Close() {
	s.once.Do(func() { close(s.closing) })
}

// Run streams the snapshot and then every bus event until ctx is done, Close
// is called, a write fails or the bus evicts the session. It returns nil on a
// clean shutdown.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionStarted
	}
	select {
	case <-s.closing:
		s.state.Store(int32(StateClosed))
		return nil
	default:
	}

	sub, snapshot := s.bus.SubscribeWithSnapshot()
	s.state.Store(int32(StateStreaming))
	s.metrics.SessionStarted()
	s.log.Info("stream session started", zap.Int("snapshot", len(snapshot)))
	defer func() {
		s.bus.Unsubscribe(sub)
		s.state.Store(int32(StateClosed))
		s.metrics.SessionEnded()
	}()

	err := s.stream(ctx, sub, snapshot)
	switch {
	case err == nil:
		s.log.Info("stream session closed")
	case errors.Is(err, ErrEvicted):
		s.log.Warn("stream session evicted")
	default:
		s.log.Info("stream session ended", zap.Error(err))
	}
	return err
}

func (s *Session) stream(ctx context.Context, sub *Subscription, snapshot []messages.Reading) error {
	for _, r := range snapshot {
		if err := s.send(messages.Update(r)); err != nil {
			return err
		}
	}

	var heartbeat <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 {
		t := time.NewTicker(s.cfg.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closing:
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				if sub.Evicted() {
					return ErrEvicted
				}
				return nil
			}
			if err := s.send(e); err != nil {
				return err
			}
		case <-heartbeat:
			if err := s.out.Write(keepalive); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
		}
	}
}

func (s *Session) send(e messages.StreamEvent) error {
	data, err := EncodeEvent(e)
	if err != nil {
		// an unencodable event is skipped, the stream goes on
		s.log.Warn("skipping event", zap.String("sensor_id", e.Data.ID), zap.Error(err))
		return nil
	}
	if err := s.out.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// EncodeEvent frames e as one server-sent event.
func EncodeEvent(e messages.StreamEvent) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n'), nil
}

// sseWriter writes to an HTTP response, flushing after every event. Each
// write must complete within timeout or the connection is torn down.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func newSSEWriter(w http.ResponseWriter, timeout time.Duration) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w), timeout: timeout}
}

func (s *sseWriter) Write(p []byte) error {
	if s.timeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
