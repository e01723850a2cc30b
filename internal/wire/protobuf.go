package wire

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf frames are a google.protobuf.Struct holding the frame fields,
// marshalled and then zstd compressed.

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			zstdErr = fmt.Errorf("create zstd encoder: %w", zstdErr)
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
		if zstdErr != nil {
			zstdErr = fmt.Errorf("create zstd decoder: %w", zstdErr)
		}
	})
	return zstdEnc, zstdDec, zstdErr
}

type protobufCodec struct{}

func (protobufCodec) Protocol() string { return ProtocolProtobuf }

func (protobufCodec) MessageType() int { return websocket.BinaryMessage }

func (protobufCodec) Encode(f Frame) ([]byte, error) {
	enc, _, err := zstdCodecs()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame fields: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal frame fields: %w", err)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build frame struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	return enc.EncodeAll(pbData, nil), nil
}

func (protobufCodec) Decode(data []byte) (Frame, error) {
	_, dec, err := zstdCodecs()
	if err != nil {
		return Frame{}, err
	}

	pbData, err := dec.DecodeAll(data, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("decompress frame: %w", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(pbData, &st); err != nil {
		return Frame{}, fmt.Errorf("unmarshal protobuf: %w", err)
	}

	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return Frame{}, fmt.Errorf("marshal frame fields: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame fields: %w", err)
	}
	return f, nil
}
