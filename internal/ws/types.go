package ws

// Op identifies the kind of frame sent to observers.
type Op string

const (
	OpHello    Op = "hello"
	OpProgress Op = "progress"
)

type Message struct {
	Op    Op     `json:"op"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type HelloPayload struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval_ms"`
}

type ProgressPayload struct {
	Percent int `json:"percent"`
}

func NewProgressMessage(event string, percent int) *Message {
	return &Message{
		Op:    OpProgress,
		Event: event,
		Data:  ProgressPayload{Percent: percent},
	}
}
