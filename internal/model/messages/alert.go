package messages

import "time"

type AlertType string

const (
	AlertMotion      AlertType = "MOTION"
	AlertIntrusion   AlertType = "INTRUSION"
	AlertDoorOpen    AlertType = "DOOR_OPEN"
	AlertWindowOpen  AlertType = "WINDOW_OPEN"
	AlertTemperature AlertType = "TEMPERATURE"
	AlertHumidity    AlertType = "HUMIDITY"
	AlertSystem      AlertType = "SYSTEM"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is a security alert raised from a reading. Alerts are persisted by
// the external alert store; the relay only inserts them.
type Alert struct {
	SensorID    string         `json:"sensor_id"`
	Type        AlertType      `json:"alert_type"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
