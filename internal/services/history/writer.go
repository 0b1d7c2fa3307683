package history

import (
	"context"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
)

// PointWriter is satisfied by influxdb2 api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Writer writes points through a circuit breaker and remembers when the last
// write failed, for the probes.
type Writer struct {
	api     PointWriter
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	timeout time.Duration

	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

func NewWriter(api PointWriter, cb *gobreaker.CircuitBreaker, m *metrics.Metrics) *Writer {
	return &Writer{
		api:     api,
		cb:      cb,
		metrics: m,
		timeout: 5 * time.Second,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
}

func (w *Writer) Write(ctx context.Context, p *write.Point) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, w.api.WritePoint(ctx, p)
	})
	w.metrics.HistoryWrite(err)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.lastErr = time.Now()
		return err
	}
	w.written++
	return nil
}

// LastErrorAge returns how long ago the last write failed.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Written returns the number of points written successfully.
func (w *Writer) Written() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}
