// Package jsoncodec is the JSON encoder used for the status API and CLI
// reports. It follows encoding/json semantics (sorted map keys, HTML
// escaping) so output is stable across runs.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}
