package codec

import (
	"fmt"
	"reflect"
	"time"

	ugcodec "github.com/ugorji/go/codec"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BinaryCodec is the default wire serialization: CBOR with SurrealDB's
// custom extension tags layered on top via ugorji/go/codec's
// InterfaceExt mechanism, one extension per preserved scalar type.
type BinaryCodec struct {
	handle *ugcodec.CborHandle
}

// NewBinary constructs a BinaryCodec with every custom tag registered.
func NewBinary() *BinaryCodec {
	h := &ugcodec.CborHandle{}
	h.Canonical = false

	mustExt := func(rt reflect.Type, tag uint64, ext ugcodec.InterfaceExt) {
		if err := h.SetInterfaceExt(rt, tag, ext); err != nil {
			panic(fmt.Sprintf("codec: registering tag %d for %s: %v", tag, rt, err))
		}
	}

	mustExt(reflect.TypeOf(noneMarker{}), TagNone, noneExt{})
	mustExt(reflect.TypeOf(Table{}), TagTable, tableExt{})
	mustExt(reflect.TypeOf(RecordID{}), TagRecordID, recordIDExt{})
	mustExt(reflect.TypeOf(uuid.UUID{}), TagUUID, uuidExt{})
	mustExt(reflect.TypeOf(decimal.Decimal{}), TagDecimal, decimalExt{})
	mustExt(reflect.TypeOf(time.Time{}), TagDateTime, dateTimeExt{})
	mustExt(reflect.TypeOf(Duration("")), TagDuration, durationExt{})

	return &BinaryCodec{handle: h}
}

func (c *BinaryCodec) Protocol() Protocol { return ProtocolBinary }

func (c *BinaryCodec) Encode(v interface{}) ([]byte, error) {
	v = preprocessNone(v)
	var buf []byte
	enc := ugcodec.NewEncoderBytes(&buf, c.handle)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("codec: binary encode: %w", err)
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v interface{}) error {
	dec := ugcodec.NewDecoderBytes(data, c.handle)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("codec: binary decode: %w", err)
	}
	return nil
}

// preprocessNone walks maps and slices so that the explicit None marker
// nested anywhere in the structure is honored by the encoder. Go's bare
// nil is left untouched and encodes as the generic CBOR null primitive
// (SurrealDB's NULL); only the codec.None sentinel produces the NONE
// tag. This keeps None and nil encodable to distinct wire values, which
// is what lets them round-trip to distinct values on decode.
func preprocessNone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = preprocessNone(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = preprocessNone(val)
		}
		return out
	default:
		return v
	}
}

// --- extensions ---

type noneExt struct{}

func (noneExt) ConvertExt(v interface{}) interface{} { return nil }
func (noneExt) UpdateExt(dest interface{}, v interface{}) {
	if p, ok := dest.(*noneMarker); ok {
		*p = noneMarker{}
	}
}

type tableExt struct{}

func (tableExt) ConvertExt(v interface{}) interface{} {
	return v.(Table).Name
}
func (tableExt) UpdateExt(dest interface{}, v interface{}) {
	p, ok := dest.(*Table)
	if !ok {
		return
	}
	if s, ok := v.(string); ok {
		p.Name = s
	}
}

type recordIDExt struct{}

func (recordIDExt) ConvertExt(v interface{}) interface{} {
	r := v.(RecordID)
	return []interface{}{r.Table, r.ID}
}
func (recordIDExt) UpdateExt(dest interface{}, v interface{}) {
	p, ok := dest.(*RecordID)
	if !ok {
		return
	}
	switch parts := v.(type) {
	case []interface{}:
		if len(parts) == 2 {
			if table, ok := parts[0].(string); ok {
				p.Table = table
				p.ID = parts[1]
			}
		}
	case string:
		if rid, err := ParseRecordID(parts); err == nil {
			*p = rid
		}
	}
}

type uuidExt struct{}

func (uuidExt) ConvertExt(v interface{}) interface{} {
	return v.(uuid.UUID).String()
}
func (uuidExt) UpdateExt(dest interface{}, v interface{}) {
	p, ok := dest.(*uuid.UUID)
	if !ok {
		return
	}
	if s, ok := v.(string); ok {
		if parsed, err := uuid.Parse(s); err == nil {
			*p = parsed
		}
	}
}

type decimalExt struct{}

func (decimalExt) ConvertExt(v interface{}) interface{} {
	return v.(decimal.Decimal).String()
}
func (decimalExt) UpdateExt(dest interface{}, v interface{}) {
	p, ok := dest.(*decimal.Decimal)
	if !ok {
		return
	}
	if s, ok := v.(string); ok {
		if parsed, err := decimal.NewFromString(s); err == nil {
			*p = parsed
		}
	}
}

type dateTimeExt struct{}

func (dateTimeExt) ConvertExt(v interface{}) interface{} {
	t := v.(time.Time)
	if t.Location() == nil {
		t = t.UTC()
	}
	return t.Format(time.RFC3339Nano)
}
func (dateTimeExt) UpdateExt(dest interface{}, v interface{}) {
	p, ok := dest.(*time.Time)
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		return
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*p = parsed
		return
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		*p = parsed
	}
}

type durationExt struct{}

func (durationExt) ConvertExt(v interface{}) interface{} {
	return string(v.(Duration))
}
func (durationExt) UpdateExt(dest interface{}, v interface{}) {
	p, ok := dest.(*Duration)
	if !ok {
		return
	}
	if s, ok := v.(string); ok {
		*p = Duration(s)
	}
}
