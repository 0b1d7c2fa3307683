package sensor_simulator

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/ingest"
)

// Sensor is one simulated device.
type Sensor struct {
	ID       string
	Kind     entities.SensorKind
	Location string
	// Binary sends motion and camera readings as binary frames. Binary frames
	// identify the device by a 16 byte id derived from ID.
	Binary bool
}

// RawID is the 16 byte device id used in binary frames.
func (s *Sensor) RawID() [16]byte {
	var id [16]byte
	sum := sha256.Sum256([]byte(s.ID))
	copy(id[:], sum[:16])
	return id
}

// ParseSensor reads "id:kind[:location]".
func ParseSensor(arg string) (Sensor, error) {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return Sensor{}, fmt.Errorf("sensor %q: want id:kind[:location]", arg)
	}
	s := Sensor{ID: parts[0], Kind: entities.SensorKind(parts[1])}
	if !s.Kind.Valid() {
		return Sensor{}, fmt.Errorf("sensor %q: unknown kind %q", arg, parts[1])
	}
	if len(parts) == 3 {
		s.Location = parts[2]
	}
	return s, nil
}

// DataGenerator produces plausible readings: slow drifts for the climate
// sensors, random events for the security ones.
type DataGenerator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	now  func() time.Time
	temp float64
	hum  float64
	open map[string]bool
	// AlertRate is the probability that a reading carries the alert status.
	AlertRate float64
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng:  rand.New(rand.NewSource(seed)),
		now:  time.Now,
		temp: 21,
		hum:  45,
		open: make(map[string]bool),
	}
}

// Next returns the next reading of s.
func (g *DataGenerator) Next(s *Sensor) messages.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := messages.Reading{
		ID:        s.ID,
		Kind:      s.Kind,
		Timestamp: g.now().UTC(),
		Status:    entities.StatusActive,
		Location:  s.Location,
	}
	switch s.Kind {
	case entities.KindTemperature:
		g.temp = clamp(g.temp+g.rng.NormFloat64()*0.4, -10, 60)
		r.Value = messages.NumberValue(math.Round(g.temp*10) / 10)
	case entities.KindHumidity:
		g.hum = clamp(g.hum+g.rng.NormFloat64(), 0, 100)
		r.Value = messages.NumberValue(math.Round(g.hum*10) / 10)
	case entities.KindMotion:
		v := 0.0
		if g.rng.Float64() < 0.2 {
			v = math.Round(g.rng.Float64()*100) / 100
		}
		r.Value = messages.NumberValue(v)
	case entities.KindDoor, entities.KindWindow:
		if g.rng.Float64() < 0.1 {
			g.open[s.ID] = !g.open[s.ID]
		}
		state := "closed"
		if g.open[s.ID] {
			state = "open"
		}
		r.Value = messages.StringValue(state)
		r.Metadata = map[string]any{"battery_level": float64(60 + g.rng.Intn(40))}
	case entities.KindCamera:
		img := make([]byte, 64+g.rng.Intn(192))
		g.rng.Read(img)
		r.Value = messages.StringValue(base64.StdEncoding.EncodeToString(img))
		r.Metadata = map[string]any{"motion_detected": g.rng.Float64() < 0.1}
	}
	if g.AlertRate > 0 && g.rng.Float64() < g.AlertRate {
		r.Status = entities.StatusAlert
	}
	return r
}

// Frame encodes r the way the device s would put it on the wire.
func Frame(s *Sensor, r messages.Reading) ([]byte, error) {
	if s.Binary {
		switch s.Kind {
		case entities.KindMotion:
			v, _ := r.Value.Number()
			return ingest.EncodeMotion(s.RawID(), float32(v)), nil
		case entities.KindCamera:
			text, _ := r.Value.Text()
			img, err := base64.StdEncoding.DecodeString(text)
			if err != nil {
				return nil, fmt.Errorf("camera payload: %w", err)
			}
			return ingest.EncodeCamera(s.RawID(), img), nil
		}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
