// Package codec converts between raw little-endian memory and typed values.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the declared type of a catalog address.
type Type uint8

const (
	Invalid Type = iota
	Float32
	Float64
	Int32
	Int16
	Uint8
)

var typeNames = map[string]Type{
	"sing":    Float32,
	"single":  Float32,
	"float":   Float32,
	"float32": Float32,
	"f32":     Float32,
	"doub":    Float64,
	"double":  Float64,
	"float64": Float64,
	"f64":     Float64,
	"long":    Int32,
	"int":     Int32,
	"int32":   Int32,
	"i32":     Int32,
	"short":   Int16,
	"int16":   Int16,
	"i16":     Int16,
	"byte":    Uint8,
	"uint8":   Uint8,
	"u8":      Uint8,
}

// ParseType resolves a catalog type tag.
func ParseType(tag string) (Type, error) {
	t, ok := typeNames[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return Invalid, fmt.Errorf("unknown type tag %q", tag)
	}
	return t, nil
}

func (t Type) String() string {
	switch t {
	case Float32:
		return "Sing"
	case Float64:
		return "Doub"
	case Int32:
		return "Long"
	case Int16:
		return "Short"
	case Uint8:
		return "Byte"
	}
	return "Invalid"
}

// Size is the width in bytes of a value of type t.
func (t Type) Size() int {
	switch t {
	case Float32, Int32:
		return 4
	case Float64:
		return 8
	case Int16:
		return 2
	case Uint8:
		return 1
	}
	return 0
}

func (t Type) isFloat() bool {
	return t == Float32 || t == Float64
}

// Value is a decoded value tagged with its type.
type Value struct {
	typ Type
	f   float64
	i   int64
}

func FloatValue(t Type, f float64) Value {
	if t == Float32 {
		f = float64(float32(f))
	}
	return Value{typ: t, f: f}
}

func IntValue(t Type, i int64) Value {
	return Value{typ: t, i: i}
}

func (v Value) Type() Type { return v.typ }

// Float returns the value as a float64 regardless of the underlying type.
func (v Value) Float() float64 {
	if v.typ.isFloat() {
		return v.f
	}
	return float64(v.i)
}

// Int returns the value of an integer type. Float values are truncated.
func (v Value) Int() int64 {
	if v.typ.isFloat() {
		return int64(v.f)
	}
	return v.i
}

// String formats v so that Parse(v.String(), v.Type()) yields v again.
func (v Value) String() string {
	switch v.typ {
	case Float32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Int32, Int16, Uint8:
		return strconv.FormatInt(v.i, 10)
	}
	return "<invalid>"
}

// Error is returned for any conversion that cannot be carried out.
type Error struct {
	Op    string
	Type  Type
	Input string
	Err   error
}

func (e *Error) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Op, e.Type, e.Input, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrLength   = errors.New("byte length does not match type width")
	ErrMismatch = errors.New("value type does not match declared type")
	ErrInvalid  = errors.New("invalid type")
)

// Decode interprets b as a value of type t. len(b) must equal t.Size().
func Decode(b []byte, t Type) (Value, error) {
	if t.Size() == 0 {
		return Value{}, &Error{Op: "decode", Type: t, Err: ErrInvalid}
	}
	if len(b) != t.Size() {
		return Value{}, &Error{Op: "decode", Type: t, Err: fmt.Errorf("%w: got %d, want %d", ErrLength, len(b), t.Size())}
	}
	switch t {
	case Float32:
		return FloatValue(t, float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))), nil
	case Float64:
		return FloatValue(t, math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	case Int32:
		return IntValue(t, int64(int32(binary.LittleEndian.Uint32(b)))), nil
	case Int16:
		return IntValue(t, int64(int16(binary.LittleEndian.Uint16(b)))), nil
	case Uint8:
		return IntValue(t, int64(b[0])), nil
	}
	panic("unreachable")
}

// Encode produces exactly t.Size() bytes for v.
func Encode(v Value, t Type) ([]byte, error) {
	if t.Size() == 0 {
		return nil, &Error{Op: "encode", Type: t, Err: ErrInvalid}
	}
	if v.typ != t {
		return nil, &Error{Op: "encode", Type: t, Input: v.String(), Err: ErrMismatch}
	}
	b := make([]byte, t.Size())
	switch t {
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.f)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.f))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v.i)))
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v.i)))
	case Uint8:
		b[0] = uint8(v.i)
	}
	return b, nil
}

// Parse converts text to a value of type t, failing if the text is not a
// number or does not fit.
func Parse(text string, t Type) (Value, error) {
	s := strings.TrimSpace(text)
	fail := func(err error) (Value, error) {
		var ne *strconv.NumError
		if errors.As(err, &ne) {
			err = ne.Err
		}
		return Value{}, &Error{Op: "parse", Type: t, Input: text, Err: err}
	}
	switch t {
	case Float32, Float64:
		bits := 64
		if t == Float32 {
			bits = 32
		}
		f, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return fail(err)
		}
		return FloatValue(t, f), nil
	case Int32, Int16:
		digits, base, err := intBase(s)
		if err != nil {
			return fail(err)
		}
		i, err := strconv.ParseInt(digits, base, t.Size()*8)
		if err != nil {
			return fail(err)
		}
		return IntValue(t, i), nil
	case Uint8:
		digits, base, err := intBase(s)
		if err != nil {
			return fail(err)
		}
		u, err := strconv.ParseUint(digits, base, 8)
		if err != nil {
			return fail(err)
		}
		return IntValue(t, int64(u)), nil
	}
	return fail(ErrInvalid)
}

// intBase picks the base of an integer literal: hex after a 0x prefix,
// decimal otherwise. A leading zero is still decimal and underscores or
// other prefixes are rejected.
func intBase(s string) (string, int, error) {
	sign, rest := "", s
	if rest != "" && (rest[0] == '+' || rest[0] == '-') {
		sign, rest = rest[:1], rest[1:]
	}
	if len(rest) < 2 || rest[0] != '0' || (rest[1] != 'x' && rest[1] != 'X') {
		return s, 10, nil
	}
	rest = rest[2:]
	if rest == "" || rest[0] == '+' || rest[0] == '-' {
		return "", 0, strconv.ErrSyntax
	}
	return sign + rest, 16, nil
}

// EncodeText is Parse followed by Encode.
func EncodeText(text string, t Type) ([]byte, error) {
	v, err := Parse(text, t)
	if err != nil {
		return nil, err
	}
	return Encode(v, t)
}
