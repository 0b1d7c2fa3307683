package ingest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

// Binary frame layout: [tag:1][id:16][payload].
const (
	TagCamera byte = 0x01
	TagMotion byte = 0x02

	idSize         = 16
	headerSize     = 1 + idSize
	motionPayload  = 4
	motionFrameLen = headerSize + motionPayload
)

// ParseBinary decodes the fields of one binary frame. The id is rendered as
// lowercase hex; at becomes the reading timestamp since binary frames carry none.
func ParseBinary(tag byte, id []byte, payload []byte, at time.Time) (messages.Reading, error) {
	if len(id) != idSize {
		return messages.Reading{}, fmt.Errorf("%w: id is %d bytes, want %d", ErrMalformedFrame, len(id), idSize)
	}
	r := messages.Reading{
		ID:        hex.EncodeToString(id),
		Timestamp: at,
		Status:    entities.StatusActive,
	}
	switch tag {
	case TagCamera:
		r.Kind = entities.KindCamera
		r.Value = messages.StringValue(base64.StdEncoding.EncodeToString(payload))
	case TagMotion:
		if len(payload) < motionPayload {
			return messages.Reading{}, fmt.Errorf("%w: motion payload is %d bytes", ErrMalformedFrame, len(payload))
		}
		bits := binary.BigEndian.Uint32(payload[:motionPayload])
		r.Kind = entities.KindMotion
		r.Value = messages.NumberValue(float64(math.Float32frombits(bits)))
	default:
		return messages.Reading{}, fmt.Errorf("%w: tag 0x%02x", ErrUnknownMessageType, tag)
	}
	return r, nil
}

// EncodeMotion builds a motion frame. Used by the simulator and tests.
func EncodeMotion(id [idSize]byte, value float32) []byte {
	b := make([]byte, motionFrameLen)
	b[0] = TagMotion
	copy(b[1:headerSize], id[:])
	binary.BigEndian.PutUint32(b[headerSize:], math.Float32bits(value))
	return b
}

// EncodeCamera builds a camera frame carrying payload.
func EncodeCamera(id [idSize]byte, payload []byte) []byte {
	b := make([]byte, 0, headerSize+len(payload))
	b = append(b, TagCamera)
	b = append(b, id[:]...)
	return append(b, payload...)
}
