package alert

import (
	"context"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/relay"
)

// Bus is the part of the relay bus the alert service uses.
type Bus interface {
	Subscribe() *relay.Subscription
	Unsubscribe(sub *relay.Subscription)
	PublishEvent(e messages.StreamEvent) error
}

// Service evaluates every update, records the alerts it raises and pushes
// them to dashboard clients as alert events.
type Service struct {
	bus     Bus
	rules   Rules
	repo    Repository
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewService builds the service. repo may be nil: alerts are then only
// pushed, not recorded.
func NewService(bus Bus, rules Rules, repo Repository, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{bus: bus, rules: rules, repo: repo, log: log, metrics: m}
}

func (s *Service) Run(ctx context.Context) {
	for {
		sub := s.bus.Subscribe()
		evicted := s.consume(ctx, sub)
		s.bus.Unsubscribe(sub)
		if !evicted || ctx.Err() != nil {
			return
		}
		s.log.Warn("alert detector fell behind, resubscribing")
	}
}

func (s *Service) consume(ctx context.Context, sub *relay.Subscription) bool {
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
			for _, a := range s.rules.Detect(e.Data) {
				s.raise(ctx, e.Data, a)
			}
		}
	}
}

func (s *Service) raise(ctx context.Context, r messages.Reading, a messages.Alert) {
	s.metrics.AlertRaised(string(a.Type))
	s.log.Info("alert raised",
		zap.String("sensor_id", a.SensorID),
		zap.String("alert_type", string(a.Type)),
		zap.String("severity", string(a.Severity)))

	if s.repo != nil {
		ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.repo.Insert(ictx, a)
		cancel()
		if err != nil {
			s.log.Warn("alert not recorded", zap.String("sensor_id", a.SensorID), zap.Error(err))
		}
	}

	if err := s.bus.PublishEvent(AlertEvent(r, a)); err != nil {
		s.log.Debug("alert not pushed", zap.Error(err))
	}
}

// AlertEvent wraps an alert for the stream: the triggering reading with
// status alert and the alert fields in its metadata.
func AlertEvent(r messages.Reading, a messages.Alert) messages.StreamEvent {
	data := r.Clone()
	data.Status = entities.StatusAlert
	meta := make(map[string]any, len(r.Metadata)+4)
	maps.Copy(meta, r.Metadata)
	meta["alert_type"] = string(a.Type)
	meta["severity"] = string(a.Severity)
	meta["title"] = a.Title
	meta["description"] = a.Description
	data.Metadata = meta
	return messages.StreamEvent{Event: messages.EventAlert, Data: data}
}
