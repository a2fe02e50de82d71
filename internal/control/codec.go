package control

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName selects this codec via grpc.CallContentSubtype on the client and
// is negotiated automatically on the server once registered.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
