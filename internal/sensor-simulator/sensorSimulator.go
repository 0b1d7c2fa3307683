package sensor_simulator

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/pkg/rabbitmq"
)

// Sender delivers encoded frames to the relay.
type Sender interface {
	Send(frame []byte) error
	Close()
}

// TCPSender streams frames over one connection, redialing after failures.
// With Split set, frames are cut into random chunks to exercise reassembly.
type TCPSender struct {
	addr  string
	split bool
	rng   *rand.Rand
	log   *zap.Logger

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPSender(addr string, split bool, seed int64, log *zap.Logger) *TCPSender {
	return &TCPSender{addr: addr, split: split, rng: rand.New(rand.NewSource(seed)), log: log}
}

func (t *TCPSender) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 10 * time.Second
		err := backoff.Retry(func() error {
			c, err := net.DialTimeout("tcp", t.addr, 3*time.Second)
			if err != nil {
				t.log.Warn("relay dial failed", zap.String("addr", t.addr), zap.Error(err))
				return err
			}
			t.conn = c
			return nil
		}, bo)
		if err != nil {
			return fmt.Errorf("dial relay %s: %w", t.addr, err)
		}
	}

	for _, chunk := range t.chunks(frame) {
		if _, err := t.conn.Write(chunk); err != nil {
			_ = t.conn.Close()
			t.conn = nil
			return fmt.Errorf("write to relay: %w", err)
		}
	}
	return nil
}

func (t *TCPSender) chunks(frame []byte) [][]byte {
	if !t.split || len(frame) < 2 {
		return [][]byte{frame}
	}
	var out [][]byte
	for len(frame) > 0 {
		n := 1 + t.rng.Intn(len(frame))
		out = append(out, frame[:n])
		frame = frame[n:]
	}
	return out
}

func (t *TCPSender) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// MQTTSender publishes every frame as one message on the sensor's topic.
type MQTTSender struct {
	pub rabbitmq.IPublisher
}

func NewMQTTSender(pub rabbitmq.IPublisher) *MQTTSender { return &MQTTSender{pub: pub} }

func (m *MQTTSender) Send(frame []byte) error { return m.pub.PublishMessage(frame) }
func (m *MQTTSender) Close()                  { m.pub.Close() }

// SensorSimulator publishes readings of one sensor at a fixed interval.
type SensorSimulator struct {
	sensor    *Sensor
	generator *DataGenerator
	sender    Sender
	log       *zap.Logger
}

func NewSensorSimulator(sender Sender, gen *DataGenerator, sensor *Sensor, log *zap.Logger) *SensorSimulator {
	if sensor.Kind == entities.KindCamera {
		// a camera frame has no length prefix, it must arrive in one piece
		if ts, ok := sender.(*TCPSender); ok {
			ts.split = false
		}
	}
	return &SensorSimulator{
		sensor:    sensor,
		generator: gen,
		sender:    sender,
		log:       log.With(zap.String("sensor_id", sensor.ID), zap.String("type", string(sensor.Kind))),
	}
}

// Start publishes until ctx is done or count readings were sent (count <= 0
// means no limit).
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration, count int) {
	defer s.sender.Close()

	t := time.NewTicker(interval)
	defer t.Stop()
	for sent := 0; count <= 0 || sent < count; {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		r := s.generator.Next(s.sensor)
		frame, err := Frame(s.sensor, r)
		if err != nil {
			s.log.Warn("encode failed", zap.Error(err))
			continue
		}
		if err := s.sender.Send(frame); err != nil {
			s.log.Warn("send failed", zap.Error(err))
			continue
		}
		sent++
		s.log.Debug("reading sent", zap.Stringer("value", r.Value), zap.Int("bytes", len(frame)))
	}
}
