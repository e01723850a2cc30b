// Package wire defines the frames exchanged between the hub and its websocket
// clients, and their encodings for the supported subprotocols.
package wire

import (
	"encoding/json"
	"fmt"
)

// Subprotocols offered by the hub, in order of preference.
const (
	ProtocolProtobuf = "protobuf.mapsync.v1"
	ProtocolJSON     = "json.mapsync.v1"
)

// Frame types. The first group is sent by clients, the second by the hub.
const (
	TypeJoinGroup   = "joinGroup"
	TypeLeaveGroup  = "leaveGroup"
	TypeSendToGroup = "sendToGroup"
	TypePing        = "ping"

	TypeConnected = "connected"
	TypeAck       = "ack"
	TypeMessage   = "message"
	TypePong      = "pong"
)

// Frame is a single hub message in either direction. Data carries an encoded
// envelope for sendToGroup and message frames.
type Frame struct {
	Type         string          `json:"type"`
	Group        string          `json:"group,omitempty"`
	AckID        *uint64         `json:"ackId,omitempty"`
	NoEcho       bool            `json:"noEcho,omitempty"`
	Success      *bool           `json:"success,omitempty"`
	Error        string          `json:"error,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	From         string          `json:"from,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Codec encodes frames for one subprotocol.
type Codec interface {
	Protocol() string
	// MessageType is the websocket message type frames are written with.
	MessageType() int
	Encode(f Frame) ([]byte, error)
	Decode(data []byte) (Frame, error)
}

// Protocols lists the supported subprotocols, preferred first.
func Protocols() []string {
	return []string{ProtocolProtobuf, ProtocolJSON}
}

// CodecFor returns the codec for protocol.
func CodecFor(protocol string) (Codec, error) {
	switch protocol {
	case ProtocolJSON:
		return jsonCodec{}, nil
	case ProtocolProtobuf:
		return protobufCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported subprotocol %q", protocol)
	}
}

// Connected builds the frame sent to a client right after upgrade.
func Connected(connID string) Frame {
	return Frame{Type: TypeConnected, ConnectionID: connID}
}

// Ack builds an acknowledgment for ackID.
func Ack(ackID uint64, success bool, reason string) Frame {
	return Frame{Type: TypeAck, AckID: &ackID, Success: &success, Error: reason}
}

// Message builds a group message frame.
func Message(group, from string, data []byte) Frame {
	return Frame{Type: TypeMessage, Group: group, From: from, Data: json.RawMessage(data)}
}

// Pong builds a pong frame.
func Pong() Frame {
	return Frame{Type: TypePong}
}

// Validate checks that an upstream frame has the fields its type requires.
func (f Frame) Validate() error {
	switch f.Type {
	case TypeJoinGroup, TypeLeaveGroup:
		if f.Group == "" {
			return fmt.Errorf("%s without group", f.Type)
		}
	case TypeSendToGroup:
		if f.Group == "" || len(f.Data) == 0 {
			return fmt.Errorf("%s without group or data", f.Type)
		}
	case TypePing:
	default:
		return fmt.Errorf("unknown upstream type %q", f.Type)
	}
	return nil
}

