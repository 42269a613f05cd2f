// Package encoding provides centralized msgpack serialization for records kept
// outside the process heap (the spill store). All msgpack operations go
// through this package so struct tags and time handling stay consistent.
//
// Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Struct fields follow their msgpack tags, falling back to json tags
	enc.SetCustomStructTag("json")

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data produced by Marshal.
// Strings decode as Go strings (not []byte) when the target is interface{}.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
