package sensor_simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/ingest"
)

func decodeAll(t *testing.T, frames ...[]byte) []messages.Reading {
	t.Helper()
	dec := ingest.NewFrameDecoder(ingest.DecoderConfig{
		OnMalformed: func(err error, _ []byte) { t.Fatalf("malformed frame: %v", err) },
	})
	var out []messages.Reading
	for _, f := range frames {
		rs, err := dec.Append(f)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, rs...)
	}
	return out
}

func TestParseSensor(t *testing.T) {
	s, err := ParseSensor("living-temp:temperature:living room")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "living-temp" || s.Kind != entities.KindTemperature || s.Location != "living room" {
		t.Fatalf("unexpected sensor %+v", s)
	}
	if _, err := ParseSensor("x:toaster"); err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
	if _, err := ParseSensor("nokind"); err == nil {
		t.Fatal("expected missing kind to be rejected")
	}
}

func TestFramesDecodeBackToReadings(t *testing.T) {
	gen := NewDataGenerator(1)
	// a newline after JSON is only a separator before the next JSON object,
	// so the binary motion frame goes first
	kinds := []entities.SensorKind{
		entities.KindMotion, entities.KindTemperature, entities.KindHumidity, entities.KindDoor, entities.KindWindow,
	}
	for _, binary := range []bool{false, true} {
		var frames [][]byte
		for _, k := range kinds {
			s := &Sensor{ID: "s-" + string(k), Kind: k, Binary: binary}
			f, err := Frame(s, gen.Next(s))
			if err != nil {
				t.Fatal(err)
			}
			frames = append(frames, f)
		}
		got := decodeAll(t, frames...)
		if len(got) != len(kinds) {
			t.Fatalf("binary=%v: expected %d readings, got %d", binary, len(kinds), len(got))
		}
		for i, r := range got {
			if r.Kind != kinds[i] {
				t.Fatalf("binary=%v: reading %d has kind %s, want %s", binary, i, r.Kind, kinds[i])
			}
		}
	}
}

func TestBinaryCameraFrame(t *testing.T) {
	gen := NewDataGenerator(2)
	s := &Sensor{ID: "cam", Kind: entities.KindCamera, Binary: true}
	r := gen.Next(s)
	f, err := Frame(s, r)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, f)
	if len(got) != 1 {
		t.Fatalf("expected 1 camera reading, got %d", len(got))
	}
	want, _ := r.Value.Text()
	if text, _ := got[0].Value.Text(); text != want {
		t.Fatal("camera payload did not survive the binary round trip")
	}
}

type memorySender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (m *memorySender) Send(f []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
	return nil
}

func (m *memorySender) Close() {}

func TestSimulatorStopsAfterCount(t *testing.T) {
	out := &memorySender{}
	sim := NewSensorSimulator(out, NewDataGenerator(3), &Sensor{ID: "t", Kind: entities.KindTemperature}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sim.Start(ctx, time.Millisecond, 3)

	if len(out.frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(out.frames))
	}
}
