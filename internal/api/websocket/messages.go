package websocket

import (
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeReading     MessageType = "reading"
	MessageTypeState       MessageType = "command_state"
	MessageTypeCommand     MessageType = "command"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeClientError MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`

	// channel restricts delivery to clients subscribed to that bank.
	channel channel.Type
}

type StateData struct {
	State    machine.State `json:"state"`
	Previous machine.State `json:"previous_state"`
}

// CommandData reports a command executed over any transport.
type CommandData struct {
	Command string   `json:"command"`
	Status  string   `json:"status"`
	Lines   []string `json:"lines,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewReadingMessage(r sampling.Reading) Message {
	msg := NewMessage(MessageTypeReading, r)
	msg.Timestamp = r.Timestamp
	msg.channel = r.Type
	return msg
}

func NewStateMessage(status machine.Status) Message {
	msg := NewMessage(MessageTypeState, StateData{
		State:    status.State,
		Previous: status.Previous,
	})
	msg.Timestamp = status.LastStateChange
	return msg
}

func NewCommandMessage(command, status string, lines []string) Message {
	return NewMessage(MessageTypeCommand, CommandData{
		Command: command,
		Status:  status,
		Lines:   lines,
	})
}

// clientRequest is what clients may send: {"type":"subscribe","channels":["analog_input"]}.
type clientRequest struct {
	Type     string         `json:"type"`
	Channels []channel.Type `json:"channels"`
}
