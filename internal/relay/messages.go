package relay

import (
	"encoding/json"
	"time"
)

// Push channel message types.
const (
	TypeHello = "hello"
	TypeFrame = "frame"
	TypePing  = "ping"
	TypePong  = "pong"
)

// Message is the JSON envelope used on the push channel in both directions.
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Image   string `json:"image,omitempty"`
	TS      int64  `json:"ts,omitempty"`
}

// HelloMessage greets a new subscriber.
func HelloMessage() []byte {
	return mustEncode(Message{Type: TypeHello, Message: "connected"})
}

// FrameMessage carries one uploaded frame.
func FrameMessage(image string) []byte {
	return mustEncode(Message{Type: TypeFrame, Image: image})
}

// PongMessage answers a ping with the server time in epoch milliseconds.
func PongMessage(now time.Time) []byte {
	return mustEncode(Message{Type: TypePong, TS: now.UnixMilli()})
}

// ParseMessage decodes an inbound message. Malformed input returns ok=false.
func ParseMessage(data []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false
	}
	return msg, true
}

func mustEncode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Message holds only strings and integers.
		panic(err)
	}
	return data
}
