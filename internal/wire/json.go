package wire

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type jsonCodec struct{}

func (jsonCodec) Protocol() string { return ProtocolJSON }

func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal json frame: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal json frame: %w", err)
	}
	return f, nil
}
