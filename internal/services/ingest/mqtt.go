package ingest

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
	"github.com/LeonardoBeccarini/sentry_relay/pkg/dedup"
)

// DefaultStreamIdle is how long a topic may hold a partial frame without
// new messages before its bytes are discarded.
const DefaultStreamIdle = 2 * time.Minute

type topicStream struct {
	dec  *FrameDecoder
	last time.Time
}

// MQTTHandler decodes readings published on broker topics. Every topic is an
// independent byte stream, so a device may split a frame across messages.
// Only topics holding a partial frame keep a decoder.
type MQTTHandler struct {
	sink    Sink
	log     *zap.Logger
	metrics *metrics.Metrics
	seen    *dedup.Deduper
	maxBuf  int
	idle    time.Duration
	now     func() time.Time

	mu        sync.Mutex
	streams   map[string]*topicStream
	lastSweep time.Time
}

// NewMQTTHandler returns a handler for rabbitmq consumers. seen may be nil to
// disable redelivery filtering.
func NewMQTTHandler(sink Sink, seen *dedup.Deduper, maxBuf int, log *zap.Logger, m *metrics.Metrics) *MQTTHandler {
	return &MQTTHandler{
		sink:    sink,
		log:     log.With(zap.String("transport", "mqtt")),
		metrics: m,
		seen:    seen,
		maxBuf:  maxBuf,
		idle:    DefaultStreamIdle,
		now:     time.Now,
		streams: make(map[string]*topicStream),
	}
}

// WithIdleTimeout sets how long a partial frame may wait for its topic's
// next message. Non-positive values keep the default.
func (h *MQTTHandler) WithIdleTimeout(d time.Duration) *MQTTHandler {
	if d > 0 {
		h.idle = d
	}
	return h
}

// WithClock replaces time.Now, for tests.
func (h *MQTTHandler) WithClock(now func() time.Time) *MQTTHandler {
	h.now = now
	return h
}

// Handle has the rabbitmq.Handler signature.
func (h *MQTTHandler) Handle(_ string, m mqtt.Message) error {
	topic := m.Topic()
	if h.seen != nil && m.Qos() > 0 {
		// every QoS1 delivery is remembered; only flagged redeliveries are dropped
		fresh := h.seen.ShouldProcess(dedup.Key(topic, m.Payload()))
		if !fresh && m.Duplicate() {
			h.log.Debug("dropping redelivered message", zap.String("topic", topic))
			return nil
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.sweepLocked(now)

	st, ok := h.streams[topic]
	if !ok {
		log := h.log.With(zap.String("topic", topic))
		st = &topicStream{dec: NewFrameDecoder(DecoderConfig{
			MaxBufferSize: h.maxBuf,
			OnMalformed: func(err error, dropped []byte) {
				h.metrics.FrameMalformed("mqtt")
				log.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(dropped)))
			},
		})}
	}
	st.last = now

	readings, err := st.dec.Append(m.Payload())
	publish(h.sink, readings, "mqtt", h.metrics, h.log)
	switch {
	case errors.Is(err, ErrProtocolViolation):
		h.metrics.ProtocolViolation("mqtt")
		delete(h.streams, topic)
		return err
	case st.dec.Buffered() == 0:
		delete(h.streams, topic)
	default:
		h.streams[topic] = st
	}
	return nil
}

// sweepLocked drops partial frames from topics idle for longer than h.idle.
// It walks the map at most once per idle period.
func (h *MQTTHandler) sweepLocked(now time.Time) {
	if now.Sub(h.lastSweep) < h.idle {
		return
	}
	h.lastSweep = now
	for topic, st := range h.streams {
		if now.Sub(st.last) >= h.idle {
			h.log.Debug("discarding idle partial frame",
				zap.String("topic", topic), zap.Int("bytes", st.dec.Buffered()))
			delete(h.streams, topic)
		}
	}
}

// Streams returns the number of topics holding a partial frame.
func (h *MQTTHandler) Streams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}
