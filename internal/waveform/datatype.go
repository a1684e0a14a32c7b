package waveform

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType is one of the scalar encodings a Blocked header may declare for a
// parameter. All encodings are big-endian.
type DataType uint8

const (
	U8 DataType = iota + 1
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	SGL // 32-bit IEEE float
	DBL // 64-bit IEEE float
)

var dataTypeNames = map[string]DataType{
	"U8":  U8,
	"U16": U16,
	"U32": U32,
	"U64": U64,
	"I8":  I8,
	"I16": I16,
	"I32": I32,
	"I64": I64,
	"SGL": SGL,
	"DBL": DBL,
}

// ParseDataType maps a header type name to its DataType.
func ParseDataType(name string) (DataType, error) {
	t, ok := dataTypeNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown parameter type %q", ErrFormat, name)
	}
	return t, nil
}

func (t DataType) String() string {
	for name, v := range dataTypeNames {
		if v == t {
			return name
		}
	}
	return fmt.Sprintf("DataType(%d)", uint8(t))
}

// Size is the encoded width in bytes.
func (t DataType) Size() int {
	switch t {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32, SGL:
		return 4
	case U64, I64, DBL:
		return 8
	}
	return 0
}

// IsInteger reports whether t is one of the integer encodings.
func (t DataType) IsInteger() bool {
	return t != SGL && t != DBL && t.Size() > 0
}

// Decode reads a value of type t from the front of b.
func (t DataType) Decode(b []byte) float64 {
	switch t {
	case U8:
		return float64(b[0])
	case I8:
		return float64(int8(b[0]))
	case U16:
		return float64(binary.BigEndian.Uint16(b))
	case I16:
		return float64(int16(binary.BigEndian.Uint16(b)))
	case U32:
		return float64(binary.BigEndian.Uint32(b))
	case I32:
		return float64(int32(binary.BigEndian.Uint32(b)))
	case U64:
		return float64(binary.BigEndian.Uint64(b))
	case I64:
		return float64(int64(binary.BigEndian.Uint64(b)))
	case SGL:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case DBL:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return 0
}

// Append encodes v as type t and appends it to dst. Integer types truncate.
func (t DataType) Append(dst []byte, v float64) []byte {
	switch t {
	case U8:
		return append(dst, uint8(v))
	case I8:
		return append(dst, uint8(int8(v)))
	case U16:
		return binary.BigEndian.AppendUint16(dst, uint16(v))
	case I16:
		return binary.BigEndian.AppendUint16(dst, uint16(int16(v)))
	case U32:
		return binary.BigEndian.AppendUint32(dst, uint32(v))
	case I32:
		return binary.BigEndian.AppendUint32(dst, uint32(int32(v)))
	case U64:
		return binary.BigEndian.AppendUint64(dst, uint64(v))
	case I64:
		return binary.BigEndian.AppendUint64(dst, uint64(int64(v)))
	case SGL:
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
	case DBL:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v))
	}
	return dst
}
