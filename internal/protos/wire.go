package protos

import (
	"encoding/base64"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// DecodePayload converts the wire encoding of a payload (base64) to bytes.
func DecodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	b, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return b, nil
	}
	if b, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
		return b, nil
	}
	if b, urlErr := base64.URLEncoding.DecodeString(payload); urlErr == nil {
		return b, nil
	}
	return nil, domain.WrapEngineError(domain.ErrPayloadEncoding.Code, domain.ErrPayloadEncoding.Message, err)
}

// field is one decoded top-level field of a message.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walk iterates the top-level fields of a serialized message.
func walk(b []byte, fn func(f field)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return structureError(protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return structureError(protowire.ParseError(m))
			}
			f.varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return structureError(protowire.ParseError(m))
			}
			f.bytes = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return structureError(protowire.ParseError(n))
			}
		}
		b = b[n:]
		fn(f)
	}
	return nil
}

func structureError(cause error) error {
	return domain.WrapEngineError(domain.ErrProtoStructure.Code, domain.ErrProtoStructure.Message, cause)
}
