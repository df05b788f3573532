package bgtask

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder defines the interface for task payload serialization.
type Encoder interface {
	// Encode serializes a value to bytes.
	Encode(any) ([]byte, error)
	// Decode deserializes bytes to a value.
	Decode([]byte, any) error
}

// JSONEncoder is the default implementation of Encoder using JSON.
// It uses standard library for encoding and sonic for decoding. Encoding
// through encoding/json also keeps params canonical (map keys sorted),
// which fingerprints rely on.
type JSONEncoder struct{}

// Encode serializes a value to JSON using standard library.
func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// taskParams is the storage envelope for a task's arguments.
type taskParams struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

func encodeParams(enc Encoder, args []any, kwargs map[string]any) ([]byte, error) {
	b, err := enc.Encode(taskParams{Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, wrapErr(ErrEncodeParams, err)
	}
	return b, nil
}

func decodeParams(enc Encoder, data []byte) ([]any, map[string]any, error) {
	var p taskParams
	if err := enc.Decode(data, &p); err != nil {
		return nil, nil, wrapErr(ErrDecodeParams, err)
	}
	return p.Args, p.Kwargs, nil
}
