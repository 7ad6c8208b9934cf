package hub

import (
	"encoding/json"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// frameType tags every message on the event feed.
const frameType = "event"

// frame is the wire form of one feed message.
type frame struct {
	Type  string         `json:"type"`
	Event protocol.Event `json:"event"`
}

func encodeEvent(ev protocol.Event) ([]byte, error) {
	return json.Marshal(frame{Type: frameType, Event: ev})
}

func decodeEvent(data []byte) (protocol.Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return protocol.Event{}, err
	}
	return f.Event, nil
}
