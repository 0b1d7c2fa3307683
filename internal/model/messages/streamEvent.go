package messages

// EventType is the kind of push event sent to dashboard clients.
type EventType string

const (
	EventUpdate EventType = "update"
	EventAlert  EventType = "alert"
	EventStatus EventType = "status"
)

// StreamEvent is the payload of one server-sent event.
type StreamEvent struct {
	Event EventType `json:"event"`
	Data  Reading   `json:"data"`
}

func Update(r Reading) StreamEvent { return StreamEvent{Event: EventUpdate, Data: r} }
