package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/relay"
)

// Source is the part of the relay bus the recorder consumes.
type Source interface {
	Subscribe() *relay.Subscription
	Unsubscribe(sub *relay.Subscription)
}

// Recorder stores every update published on the bus as a time series point.
type Recorder struct {
	src         Source
	w           *Writer
	measurement string
	log         *zap.Logger
}

func NewRecorder(src Source, w *Writer, measurement string, log *zap.Logger) *Recorder {
	return &Recorder{src: src, w: w, measurement: measurement, log: log}
}

// Run consumes updates until ctx is done. An eviction loses the events that
// did not fit the queue; the recorder subscribes again and carries on.
func (r *Recorder) Run(ctx context.Context) {
	for {
		sub := r.src.Subscribe()
		evicted := r.consume(ctx, sub)
		r.src.Unsubscribe(sub)
		if !evicted || ctx.Err() != nil {
			return
		}
		r.log.Warn("history recorder fell behind, resubscribing")
	}
}

func (r *Recorder) consume(ctx context.Context, sub *relay.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.Events():
			if !ok {
				return sub.Evicted()
			}
			if e.Event != messages.EventUpdate {
				continue
			}
			if err := r.w.Write(ctx, ReadingToPoint(r.measurement, e.Data)); err != nil {
				r.log.Warn("history write failed", zap.String("sensor_id", e.Data.ID), zap.Error(err))
			}
		}
	}
}
