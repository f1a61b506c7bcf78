package raft

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the two-field envelope message spec §6 requires:
// (payload_bytes, signature_bytes). This is framed by hand with
// protowire's codegen-free primitives rather than a protoc-generated
// message type, but the bytes on the wire are a valid encoding of
//
//	message Envelope {
//	  bytes payload = 1;
//	  bytes signature = 2;
//	}
const (
	envelopePayloadField   = protowire.Number(1)
	envelopeSignatureField = protowire.Number(2)
)

// EncodeEnvelope frames a signed RPC payload for transmission.
func EncodeEnvelope(payload []byte, sig Signature) []byte {
	var b []byte
	b = protowire.AppendTag(b, envelopePayloadField, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, envelopeSignatureField, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(sig))
	return b
}

// DecodeEnvelope recovers the (payload, signature) pair from bytes
// produced by EncodeEnvelope. Fields may arrive in either order, as
// protobuf wire format never guarantees field ordering.
func DecodeEnvelope(b []byte) (payload []byte, sig Signature, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, fmt.Errorf("raft: decode envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case envelopePayloadField:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, nil, fmt.Errorf("raft: decode envelope payload: %w", protowire.ParseError(m))
			}
			payload = append([]byte(nil), v...)
			b = b[m:]
		case envelopeSignatureField:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, nil, fmt.Errorf("raft: decode envelope signature: %w", protowire.ParseError(m))
			}
			sig = Signature(append([]byte(nil), v...))
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, nil, fmt.Errorf("raft: decode envelope unknown field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return payload, sig, nil
}
