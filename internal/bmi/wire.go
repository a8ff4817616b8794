package bmi

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// message is a protobuf message of the grpc4bmi service in bmi.proto.
type message interface {
	marshal() []byte
	unmarshal(b []byte) error
}

// wireCodec carries message values over gRPC with the protobuf wire format.
type wireCodec struct{}

func (wireCodec) Name() string { return "proto" }

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("bmi codec: cannot marshal %T", v)
	}
	return m.marshal(), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("bmi codec: cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

// eachField calls fn for every field in b. fn returns the number of bytes
// it consumed, or 0 to skip the field.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

type empty struct{}

func (empty) marshal() []byte         { return nil }
func (*empty) unmarshal([]byte) error { return nil }

// text is any message with a single string field 1.
type text struct{ v string }

func (m text) marshal() []byte {
	if m.v == "" {
		return nil
	}
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendString(b, m.v)
}

func (m *text) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeString(b)
		m.v = v
		return n
	})
}

// number is any message with a single double field 1.
type number struct{ v float64 }

func (m number) marshal() []byte {
	if m.v == 0 {
		return nil
	}
	b := protowire.AppendTag(nil, 1, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(m.v))
}

func (m *number) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.Fixed64Type {
			return 0
		}
		v, n := protowire.ConsumeFixed64(b)
		m.v = math.Float64frombits(v)
		return n
	})
}

// integer is any message with a single int32 or enum field 1.
type integer struct{ v int32 }

func (m integer) marshal() []byte {
	if m.v == 0 {
		return nil
	}
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(m.v)))
}

func (m *integer) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.VarintType {
			return 0
		}
		v, n := protowire.ConsumeVarint(b)
		m.v = int32(v)
		return n
	})
}

type names struct{ v []string }

func (m names) marshal() []byte {
	var b []byte
	for _, s := range m.v {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func (m *names) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeString(b)
		m.v = append(m.v, v)
		return n
	})
}

// ints is any message with a single repeated int32 field 1.
type ints struct{ v []int32 }

func (m ints) marshal() []byte { return appendInts(nil, 1, m.v) }

func (m *ints) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 {
			return 0
		}
		var n int
		m.v, n = consumeInts(m.v, typ, b)
		return n
	})
}

// doubles is any message with a single repeated double field 1.
type doubles struct{ v []float64 }

func (m doubles) marshal() []byte { return appendDoubles(nil, 1, m.v) }

func (m *doubles) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 {
			return 0
		}
		var n int
		m.v, n = consumeDoubles(m.v, typ, b)
		return n
	})
}

// arrayKind selects the IntArrayMessage, FloatArrayMessage or
// DoubleArrayMessage member of a values oneof.
type arrayKind int

const (
	arrayInt arrayKind = iota
	arrayFloat
	arrayDouble
)

// kindOf maps a BMI variable type to the array member the server expects.
func kindOf(varType string) arrayKind {
	t := strings.ToLower(strings.TrimSpace(varType))
	switch {
	case strings.HasPrefix(t, "int"), strings.HasPrefix(t, "uint"):
		return arrayInt
	case t == "float32", t == "float", t == "real", t == "real*4":
		return arrayFloat
	default:
		return arrayDouble
	}
}

// values is a values oneof whose members start at field number base.
type values struct {
	base protowire.Number
	kind arrayKind
	v    []float64
}

func (m values) appendTo(b []byte) []byte {
	var inner []byte
	switch m.kind {
	case arrayInt:
		is := make([]int32, len(m.v))
		for i, x := range m.v {
			is[i] = int32(x)
		}
		inner = appendInts(nil, 1, is)
	case arrayFloat:
		if len(m.v) > 0 {
			var packed []byte
			for _, x := range m.v {
				packed = protowire.AppendFixed32(packed, math.Float32bits(float32(x)))
			}
			inner = protowire.AppendTag(nil, 1, protowire.BytesType)
			inner = protowire.AppendBytes(inner, packed)
		}
	default:
		inner = appendDoubles(nil, 1, m.v)
	}
	b = protowire.AppendTag(b, m.base+protowire.Number(m.kind), protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// consume decodes the oneof member num when it belongs to m. It returns 0
// for fields outside the oneof.
func (m *values) consume(num protowire.Number, typ protowire.Type, b []byte) int {
	if typ != protowire.BytesType || num < m.base || num > m.base+2 {
		return 0
	}
	inner, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	m.kind = arrayKind(num - m.base)
	m.v = m.v[:0]
	err := eachField(inner, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 {
			return 0
		}
		switch m.kind {
		case arrayInt:
			is, k := consumeInts(nil, typ, b)
			for _, x := range is {
				m.v = append(m.v, float64(x))
			}
			return k
		case arrayFloat:
			var k int
			m.v, k = consumeFloats(m.v, typ, b)
			return k
		default:
			var k int
			m.v, k = consumeDoubles(m.v, typ, b)
			return k
		}
	})
	if err != nil {
		return -1
	}
	return n
}

// valueResponse is GetValueResponse and GetValueAtIndicesResponse.
type valueResponse struct{ values }

func newValueResponse() *valueResponse { return &valueResponse{values{base: 1}} }

func (m valueResponse) marshal() []byte { return m.appendTo(nil) }

func (m *valueResponse) unmarshal(b []byte) error {
	m.base = 1
	return eachField(b, m.consume)
}

type valueAtIndicesRequest struct {
	name    string
	indices []int32
}

func (m valueAtIndicesRequest) marshal() []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.name)
	b = appendInts(b, 2, m.indices)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func (m *valueAtIndicesRequest) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.name = v
			return n
		case num == 2:
			var n int
			m.indices, n = consumeInts(m.indices, typ, b)
			return n
		}
		return 0
	})
}

type setValueRequest struct {
	name string
	values
}

func newSetValueRequest() *setValueRequest { return &setValueRequest{values: values{base: 2}} }

func (m setValueRequest) marshal() []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.name)
	m.base = 2
	return m.appendTo(b)
}

func (m *setValueRequest) unmarshal(b []byte) error {
	m.base = 2
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			m.name = v
			return n
		}
		return m.consume(num, typ, b)
	})
}

type setValueAtIndicesRequest struct {
	name    string
	indices []int32
	values
}

func newSetValueAtIndicesRequest() *setValueAtIndicesRequest {
	return &setValueAtIndicesRequest{values: values{base: 3}}
}

func (m setValueAtIndicesRequest) marshal() []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.name)
	b = appendInts(b, 2, m.indices)
	m.base = 3
	b = m.appendTo(b)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func (m *setValueAtIndicesRequest) unmarshal(b []byte) error {
	m.base = 3
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.name = v
			return n
		case num == 2:
			var n int
			m.indices, n = consumeInts(m.indices, typ, b)
			return n
		}
		return m.consume(num, typ, b)
	})
}

func appendInts(b []byte, num protowire.Number, v []int32) []byte {
	if len(v) == 0 {
		return b
	}
	var packed []byte
	for _, x := range v {
		packed = protowire.AppendVarint(packed, uint64(int64(x)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendDoubles(b []byte, num protowire.Number, v []float64) []byte {
	if len(v) == 0 {
		return b
	}
	var packed []byte
	for _, x := range v {
		packed = protowire.AppendFixed64(packed, math.Float64bits(x))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// consumeInts reads a packed or unpacked repeated int32 element.
func consumeInts(dst []int32, typ protowire.Type, b []byte) ([]int32, int) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, n
		}
		return append(dst, int32(v)), n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, n
		}
		for len(packed) > 0 {
			v, k := protowire.ConsumeVarint(packed)
			if k < 0 {
				return dst, k
			}
			dst = append(dst, int32(v))
			packed = packed[k:]
		}
		return dst, n
	}
	return dst, 0
}

func consumeDoubles(dst []float64, typ protowire.Type, b []byte) ([]float64, int) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return dst, n
		}
		return append(dst, math.Float64frombits(v)), n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, n
		}
		for len(packed) > 0 {
			v, k := protowire.ConsumeFixed64(packed)
			if k < 0 {
				return dst, k
			}
			dst = append(dst, math.Float64frombits(v))
			packed = packed[k:]
		}
		return dst, n
	}
	return dst, 0
}

func consumeFloats(dst []float64, typ protowire.Type, b []byte) ([]float64, int) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return dst, n
		}
		return append(dst, float64(math.Float32frombits(v))), n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, n
		}
		for len(packed) > 0 {
			v, k := protowire.ConsumeFixed32(packed)
			if k < 0 {
				return dst, k
			}
			dst = append(dst, float64(math.Float32frombits(v)))
			packed = packed[k:]
		}
		return dst, n
	}
	return dst, 0
}

func toInt32s(v []int) []int32 {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}

func toInts(v []int32) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}
