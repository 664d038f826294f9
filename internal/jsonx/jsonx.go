// Package jsonx routes JSON encoding through goccy/go-json. LLM output
// decoding and the sandbox wire format sit on the request path, so the codec
// is picked once here.
package jsonx

import "github.com/goccy/go-json"

// RawMessage defers decoding of an embedded document.
type RawMessage = json.RawMessage

func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
