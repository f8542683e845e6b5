package dbus

import (
	"fmt"
	"math"

	"github.com/ferrouswire/dbus/fragments"
)

// Writer encodes dynamically-typed DBus values against a parsed type
// signature. It is the dynamic half of the marshalling kernel: the
// static, reflection-based [Marshal] is built entirely on top of it.
type Writer struct {
	enc fragments.Encoder
}

// NewWriter returns a Writer that encodes multi-byte values using
// order.
func NewWriter(order fragments.ByteOrder) *Writer {
	return &Writer{enc: fragments.Encoder{Order: order}}
}

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte { return w.enc.Out }

// Order returns the byte order the Writer encodes multi-byte values
// with.
func (w *Writer) Order() fragments.ByteOrder { return w.enc.Order }

// Write parses sig as a single complete type, and encodes value
// against it.
func (w *Writer) Write(sig string, value any) error {
	t, err := ParseOne(sig)
	if err != nil {
		return err
	}
	return writeValue(&w.enc, t, value)
}

// WriteMany parses sig as a concatenation of types, and encodes each
// of values against the corresponding type. len(values) must equal
// the number of types sig describes.
func (w *Writer) WriteMany(sig string, values ...any) error {
	types, err := ParseMany(sig)
	if err != nil {
		return err
	}
	if len(types) != len(values) {
		return fmt.Errorf("signature %q describes %d values, got %d", sig, len(types), len(values))
	}
	for i, t := range types {
		if err := writeValue(&w.enc, t, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// writeValue dispatches on t.Kind to encode value into enc. It is the
// core of the dynamic marshalling kernel, and is reused directly by
// message encoding (message.go) alongside [Writer].
func writeValue(enc *fragments.Encoder, t *Type, value any) error {
	switch t.Kind {
	case KindPrimitive:
		return writePrimitive(enc, t.Code, value)
	case KindVariant:
		return writeVariant(enc, value)
	case KindArray:
		return writeArray(enc, t, value)
	case KindStruct:
		return writeStruct(enc, t, value)
	case KindDictEntry:
		return fmt.Errorf("dict-entry type %q cannot be written outside of an array", t.String())
	}
	return fmt.Errorf("unhandled type kind for signature %q", t.String())
}

func writePrimitive(enc *fragments.Encoder, code Code, value any) error {
	switch code {
	case TypeByte:
		u, err := toRangedUint(code, value, math.MaxUint8)
		if err != nil {
			return err
		}
		enc.Uint8(uint8(u))
	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("signature %q expects a bool, got %T", string(code), value)
		}
		if b {
			enc.Uint32(1)
		} else {
			enc.Uint32(0)
		}
	case TypeInt16:
		i, err := toRangedInt(code, value, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		enc.Uint16(uint16(int16(i)))
	case TypeUint16:
		u, err := toRangedUint(code, value, math.MaxUint16)
		if err != nil {
			return err
		}
		enc.Uint16(uint16(u))
	case TypeInt32:
		i, err := toRangedInt(code, value, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		enc.Uint32(uint32(int32(i)))
	case TypeUint32, TypeUnixFD:
		u, err := toRangedUint(code, value, math.MaxUint32)
		if err != nil {
			return err
		}
		enc.Uint32(uint32(u))
	case TypeInt64:
		i, err := toRangedInt(code, value, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		enc.Uint64(uint64(i))
	case TypeUint64:
		u, ok := asUint64(value)
		if !ok {
			if i, ok := asInt64(value); ok && i >= 0 {
				u = uint64(i)
			} else {
				return fmt.Errorf("signature %q expects an integer, got %T", string(code), value)
			}
		}
		enc.Uint64(u)
	case TypeDouble:
		f, ok := asFloat64(value)
		if !ok {
			return fmt.Errorf("signature %q expects a float64, got %T", string(code), value)
		}
		enc.Uint64(math.Float64bits(f))
	case TypeString, TypeObjectPath:
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("signature %q expects a string, got %T", string(code), value)
		}
		if code == TypeObjectPath && StrictSyntax {
			if err := ObjectPath(s).Validate(); err != nil {
				return err
			}
		}
		enc.String(s)
	case TypeSignature:
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("signature %q expects a string, got %T", string(code), value)
		}
		if len(s) > math.MaxUint8 {
			return fmt.Errorf("signature text %q exceeds 255 bytes", s)
		}
		if StrictSyntax {
			if err := Signature(s).Validate(); err != nil {
				return err
			}
		}
		enc.SmallString(s)
	default:
		return fmt.Errorf("unknown primitive type code %q", string(code))
	}
	return nil
}

func writeVariant(enc *fragments.Encoder, value any) error {
	var v Variant
	switch x := value.(type) {
	case Variant:
		v = x
	case *Variant:
		v = *x
	default:
		return fmt.Errorf("signature %q expects a Variant value, got %T", "v", value)
	}
	if v.Sig == nil {
		return fmt.Errorf("variant has no type signature; set Variant.Sig before writing")
	}
	sigText := v.Sig.String()
	if len(sigText) > math.MaxUint8 {
		return fmt.Errorf("variant inner signature %q exceeds 255 bytes", sigText)
	}
	enc.SmallString(sigText)
	return writeValue(enc, v.Sig, v.Value)
}

func writeArray(enc *fragments.Encoder, t *Type, value any) error {
	elem := t.Elem

	if elem.Kind == KindDictEntry {
		dict, err := asDict(value)
		if err != nil {
			return err
		}
		return enc.Array(elem.Alignment(), func() error {
			for _, pair := range dict {
				if err := enc.Struct(func() error {
					if err := writeValue(enc, elem.Key, pair.Key); err != nil {
						return err
					}
					return writeValue(enc, elem.Value, pair.Value)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if elem.Kind == KindPrimitive && elem.Code == TypeByte {
		if bs, ok := value.([]byte); ok {
			return enc.Array(1, func() error { enc.Write(bs); return nil })
		}
	}

	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("signature %q expects a []any value, got %T", t.String(), value)
	}
	return enc.Array(elem.Alignment(), func() error {
		for _, item := range items {
			if err := writeValue(enc, elem, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeStruct(enc *fragments.Encoder, t *Type, value any) error {
	var fields Struct
	switch x := value.(type) {
	case Struct:
		fields = x
	case []any:
		fields = Struct(x)
	default:
		return fmt.Errorf("signature %q expects a Struct value, got %T", t.String(), value)
	}
	if len(fields) != len(t.Fields) {
		return fmt.Errorf("signature %q describes %d fields, got %d", t.String(), len(t.Fields), len(fields))
	}
	return enc.Struct(func() error {
		for i, f := range t.Fields {
			if err := writeValue(enc, f, fields[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func asDict(value any) (Dict, error) {
	switch d := value.(type) {
	case Dict:
		return d, nil
	case []DictEntry:
		return Dict(d), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected a Dict value, got %T", value)
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case File:
		return uint64(x.Index), true
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	if u, ok := asUint64(v); ok {
		return float64(u), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case ObjectPath:
		return string(x), true
	case Signature:
		return string(x), true
	}
	return "", false
}

// toRangedInt converts v to an int64 and checks it falls within
// [min, max], the representable range of the DBus type named by code.
// Out-of-range values produce a [DomainError].
func toRangedInt(code Code, v any, min, max int64) (int64, error) {
	if i, ok := asInt64(v); ok {
		if i < min || i > max {
			return 0, &DomainError{Signature: string(code), Value: v, Bounds: fmt.Sprintf("%d..%d", min, max)}
		}
		return i, nil
	}
	if u, ok := asUint64(v); ok {
		if u > uint64(max) {
			return 0, &DomainError{Signature: string(code), Value: v, Bounds: fmt.Sprintf("%d..%d", min, max)}
		}
		return int64(u), nil
	}
	return 0, fmt.Errorf("signature %q expects an integer value, got %T", string(code), v)
}

// toRangedUint converts v to a uint64 and checks it falls within
// [0, max]. Out-of-range or negative values produce a [DomainError].
func toRangedUint(code Code, v any, max uint64) (uint64, error) {
	if u, ok := asUint64(v); ok {
		if u > max {
			return 0, &DomainError{Signature: string(code), Value: v, Bounds: fmt.Sprintf("0..%d", max)}
		}
		return u, nil
	}
	if i, ok := asInt64(v); ok {
		if i < 0 || uint64(i) > max {
			return 0, &DomainError{Signature: string(code), Value: v, Bounds: fmt.Sprintf("0..%d", max)}
		}
		return uint64(i), nil
	}
	return 0, fmt.Errorf("signature %q expects an integer value, got %T", string(code), v)
}
