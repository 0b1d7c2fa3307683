package alert

import (
	"fmt"
	"strings"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

// Rules holds the environmental bounds. Outside them a reading raises a
// HIGH alert.
type Rules struct {
	TemperatureMin float64
	TemperatureMax float64
	HumidityMin    float64
	HumidityMax    float64
}

// Detect returns the alerts raised by one reading, possibly none.
func (rules Rules) Detect(r messages.Reading) []messages.Alert {
	var out []messages.Alert
	add := func(t messages.AlertType, sev messages.Severity, title, desc string) {
		out = append(out, messages.Alert{
			SensorID:    r.ID,
			Type:        t,
			Severity:    sev,
			Title:       title,
			Description: desc,
			Metadata:    map[string]any{"value": r.Value.Any(), "status": string(r.Status)},
			Timestamp:   r.Timestamp,
		})
	}
	where := r.Location
	if where == "" {
		where = r.ID
	}

	if r.Kind.IsContact() && isOpen(r.Value) {
		t := messages.AlertDoorOpen
		if r.Kind == entities.KindWindow {
			t = messages.AlertWindowOpen
		}
		add(t, messages.SeverityMedium,
			fmt.Sprintf("%s Opened", r.ID),
			fmt.Sprintf("The %s %s was opened.", where, r.Kind))
	}

	switch r.Kind {
	case entities.KindMotion:
		if isMotion(r.Value) {
			add(messages.AlertMotion, messages.SeverityLow,
				fmt.Sprintf("Motion Detected at %s", r.ID),
				fmt.Sprintf("Motion was detected at %s.", where))
		}
	case entities.KindCamera:
		if b, ok := r.Metadata["motion_detected"].(bool); ok && b {
			add(messages.AlertMotion, messages.SeverityLow,
				fmt.Sprintf("Motion Detected at %s", r.ID),
				fmt.Sprintf("Motion was detected by camera at %s.", where))
		}
	case entities.KindTemperature:
		if v, ok := r.Value.Number(); ok && (v < rules.TemperatureMin || v > rules.TemperatureMax) {
			add(messages.AlertTemperature, messages.SeverityHigh,
				fmt.Sprintf("Temperature out of range at %s", where),
				fmt.Sprintf("%s reported %.1f, allowed range is %.1f to %.1f.", r.ID, v, rules.TemperatureMin, rules.TemperatureMax))
		}
	case entities.KindHumidity:
		if v, ok := r.Value.Number(); ok && (v < rules.HumidityMin || v > rules.HumidityMax) {
			add(messages.AlertHumidity, messages.SeverityHigh,
				fmt.Sprintf("Humidity out of range at %s", where),
				fmt.Sprintf("%s reported %.1f, allowed range is %.1f to %.1f.", r.ID, v, rules.HumidityMin, rules.HumidityMax))
		}
	}

	if r.Status == entities.StatusAlert {
		if r.Kind == entities.KindCamera {
			add(messages.AlertIntrusion, messages.SeverityHigh,
				fmt.Sprintf("Intrusion Detected at %s", where),
				fmt.Sprintf("Camera %s reported an alert.", r.ID))
		} else {
			add(messages.AlertSystem, messages.SeverityMedium,
				fmt.Sprintf("%s in alert state", r.ID),
				fmt.Sprintf("Sensor %s at %s reported an alert status.", r.ID, where))
		}
	}
	return out
}

func isOpen(v messages.Value) bool {
	if b, ok := v.Bool(); ok {
		return b
	}
	if s, ok := v.Text(); ok {
		return strings.EqualFold(strings.TrimSpace(s), "open")
	}
	return false
}

func isMotion(v messages.Value) bool {
	if b, ok := v.Bool(); ok {
		return b
	}
	if f, ok := v.Number(); ok {
		return f > 0
	}
	return false
}
