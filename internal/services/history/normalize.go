package history

import (
	"encoding/base64"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

// ReadingToPoint normalizes a reading into an InfluxDB point. Camera frames
// are not stored, only their decoded size.
func ReadingToPoint(measurement string, r messages.Reading) *write.Point {
	tags := map[string]string{
		"sensor_id": r.ID,
		"type":      string(r.Kind),
		"status":    string(r.Status),
	}
	if r.Location != "" {
		tags["location"] = r.Location
	}

	fields := map[string]interface{}{}
	switch {
	case r.Kind == entities.KindCamera:
		s, _ := r.Value.Text()
		fields["payload_bytes"] = int64(decodedLen(s))
	default:
		if v := r.Value.Any(); v != nil {
			fields["value"] = v
		}
	}
	for k, v := range r.Metadata {
		switch v.(type) {
		case float64, bool, string, int64:
			fields["meta_"+k] = v
		}
	}
	if len(fields) == 0 {
		fields["count"] = int64(1)
	}

	return influxdb2.NewPoint(measurement, tags, fields, r.Timestamp)
}

func decodedLen(s string) int {
	n := base64.StdEncoding.DecodedLen(len(s))
	for i := len(s) - 1; i >= 0 && i >= len(s)-2 && s[i] == '='; i-- {
		n--
	}
	return n
}
