package codec

import (
	"encoding/json"
	"fmt"
)

// TextCodec is the debug/compat fallback serialization: plain JSON.
// Because JSON has no "absent" sentinel, the absent-vs-null distinction
// is carried by a convention instead of a wire tag: outbound, any map
// key whose value is Go nil or the None marker is dropped from the
// object entirely so the server sees an absent field; present-but-null
// values must be represented some other way by the caller (e.g. a
// typed wrapper), since a bare nil is indistinguishable from None once
// this convention is applied. Inbound, JSON null decodes as Go nil,
// which callers interpret as present-null.
type TextCodec struct{}

// NewText constructs a TextCodec.
func NewText() *TextCodec { return &TextCodec{} }

func (c *TextCodec) Protocol() Protocol { return ProtocolText }

func (c *TextCodec) Encode(v interface{}) ([]byte, error) {
	stripped := stripAbsent(v)
	data, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("codec: text encode: %w", err)
	}
	return data, nil
}

func (c *TextCodec) Decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: text decode: %w", err)
	}
	return nil
}

// stripAbsent recursively removes nil/None-valued keys from maps, and
// converts RecordID/Table/Duration values to their textual wire form
// (since plain JSON carries no tags to distinguish them from strings —
// callers decoding text-protocol responses must already know which
// fields are record ids).
func stripAbsent(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if val == nil || IsNone(val) {
				continue
			}
			out[k] = stripAbsent(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = stripAbsent(val)
		}
		return out
	case RecordID:
		return t.String()
	case Table:
		return t.Name
	case Duration:
		return string(t)
	default:
		return v
	}
}
