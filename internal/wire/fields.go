package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldReader walks the fields of one encoded proto3 message.
type fieldReader struct {
	b []byte
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool, error) {
	if len(r.b) == 0 {
		return 0, 0, false, nil
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		return 0, 0, false, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return num, typ, true, nil
}

func (r *fieldReader) varint(typ protowire.Type) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) int32(typ protowire.Type) (int32, error) {
	v, err := r.varint(typ)
	return int32(v), err
}

func (r *fieldReader) bool(typ protowire.Type) (bool, error) {
	v, err := r.varint(typ)
	return protowire.DecodeBool(v), err
}

func (r *fieldReader) bytes(typ protowire.Type) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("expected length-delimited, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) string(typ protowire.Type) (string, error) {
	v, err := r.bytes(typ)
	return string(v), err
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		return protowire.ParseError(n)
	}
	r.b = r.b[n:]
	return nil
}

// Encoders follow proto3 rules: zero scalars are omitted, messages and
// optional fields are written whenever present.

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	return appendVarintField(b, num, uint64(int64(v)))
}

func appendOptionalInt32(b []byte, num protowire.Number, v *int) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(int32(*v))))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendOptionalBool(b []byte, num protowire.Number, v *bool) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(*v))
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
