package codec

import "github.com/surrealgo/surreal/errs"

// Protocol selects which wire serialization a transport negotiates.
type Protocol string

const (
	ProtocolBinary Protocol = "cbor"
	ProtocolText   Protocol = "json"
)

// Stable custom tag numbers shared with the server's binary protocol.
// A decoder that encounters an unregistered tag must pass the raw
// tagged value through unchanged so forward-compatible payloads survive.
const (
	TagNone     = 6
	TagTable    = 7
	TagRecordID = 8
	TagUUID     = 9
	TagDecimal  = 10
	TagDateTime = 12
	TagDuration = 14
)

// Codec is the shared contract both serializations implement. encode
// failures are caller bugs (unencodable Go type). Decode failures on
// malformed bytes are reported as connection-kind errors by the
// stateless transport; the stateful transport's reader logs and
// discards a frame it cannot decode, and no caller receives an error
// for it.
type Codec interface {
	Protocol() Protocol
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// New returns the codec implementation for the given protocol.
func New(p Protocol) (Codec, error) {
	switch p {
	case ProtocolBinary:
		return NewBinary(), nil
	case ProtocolText:
		return NewText(), nil
	default:
		return nil, errs.Newf(errs.KindValidation, "codec: unknown protocol %q", p)
	}
}
