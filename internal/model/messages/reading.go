package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
)

// Reading is one decoded telemetry sample, as received from a device
// and as pushed to dashboard clients.
type Reading struct {
	ID        string                `json:"id"`
	Kind      entities.SensorKind   `json:"type"`
	Value     Value                 `json:"value"`
	Timestamp time.Time             `json:"timestamp"`
	Status    entities.SensorStatus `json:"status"`
	Location  string                `json:"location,omitempty"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
}

var (
	errMissingID    = errors.New("reading: missing id")
	errMissingValue = errors.New("reading: missing value")
)

// Validate checks the invariants every stored reading must hold.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errMissingID
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("reading %s: unknown type %q", r.ID, r.Kind)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("reading %s: unknown status %q", r.ID, r.Status)
	}
	if r.Value.Kind() == ValueNone {
		return fmt.Errorf("reading %s: %w", r.ID, errMissingValue)
	}
	return nil
}

// Clone returns a copy that shares no mutable state with r.
func (r Reading) Clone() Reading {
	if r.Metadata != nil {
		r.Metadata = maps.Clone(r.Metadata)
	}
	return r
}

// UnmarshalJSON decodes a device message. A missing status means active.
func (r *Reading) UnmarshalJSON(b []byte) error {
	type plain Reading
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = entities.StatusActive
	}
	*r = Reading(p)
	return nil
}
