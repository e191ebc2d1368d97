package hub

import (
	"encoding/json"
	"time"
)

// Event names on the viewer channel.
const (
	EventTelemetry = "node_b_data"
	EventStatus    = "system_status"
)

// Event is an encoded viewer frame. Frame is shared by every session that
// receives the event and must be treated as read-only.
type Event struct {
	Name  string
	Frame []byte
}

// NewEvent wraps data, which must already be valid JSON, in the viewer
// envelope {"event":name,"data":data}. data is copied without re-encoding.
func NewEvent(name string, data []byte) Event {
	quoted, _ := json.Marshal(name)

	frame := make([]byte, 0, len(`{"event":,"data":}`)+len(quoted)+len(data))
	frame = append(frame, `{"event":`...)
	frame = append(frame, quoted...)
	frame = append(frame, `,"data":`...)
	frame = append(frame, data...)
	frame = append(frame, '}')

	return Event{Name: name, Frame: frame}
}

// Upstream link values reported in Status.
const (
	UpstreamConnected    = "connected"
	UpstreamDisconnected = "disconnected"
)

// Status is the relay's own upstream connectivity, sent to viewers as a
// system_status event.
type Status struct {
	Upstream string    `json:"upstream"` // "connected" or "disconnected"
	State    string    `json:"state"`    // Subscriber state name
	Address  string    `json:"address,omitempty"`
	Error    string    `json:"error,omitempty"`
	Since    time.Time `json:"since"`
}

func (s Status) event() Event {
	data, _ := json.Marshal(s)
	return NewEvent(EventStatus, data)
}
