package dbus

import (
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/creachadair/mds/mapset"
	"github.com/ferrouswire/dbus/fragments"
)

// Reader decodes dynamically-typed DBus values against a parsed type
// signature. It is the dynamic half of the marshalling kernel: the
// static, reflection-based [Unmarshal] is built entirely on top of
// it.
type Reader struct {
	dec fragments.Decoder
}

// NewReader returns a Reader that decodes multi-byte values using
// order, reading wire bytes from in.
func NewReader(order fragments.ByteOrder, in io.Reader) *Reader {
	return &Reader{dec: fragments.Decoder{Order: order, In: in}}
}

// Order returns the byte order the Reader decodes multi-byte values
// with.
func (r *Reader) Order() fragments.ByteOrder { return r.dec.Order }

// Read parses sig as a single complete type, and decodes a value of
// that type.
func (r *Reader) Read(sig string) (any, error) {
	t, err := ParseOne(sig)
	if err != nil {
		return nil, err
	}
	return readValue(&r.dec, t)
}

// ReadMany parses sig as a concatenation of types, and decodes one
// value per type, in order.
func (r *Reader) ReadMany(sig string) ([]any, error) {
	types, err := ParseMany(sig)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(types))
	for i, t := range types {
		v, err := readValue(&r.dec, t)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// readValue dispatches on t.Kind to decode a value from dec. It is
// the core of the dynamic marshalling kernel, and is reused directly
// by message decoding (message.go) alongside [Reader].
func readValue(dec *fragments.Decoder, t *Type) (any, error) {
	switch t.Kind {
	case KindPrimitive:
		return readPrimitive(dec, t.Code)
	case KindVariant:
		return readVariant(dec)
	case KindArray:
		return readArray(dec, t)
	case KindStruct:
		return readStruct(dec, t)
	case KindDictEntry:
		return nil, protocolErrorf("dict-entry type %q cannot be read outside of an array", t.String())
	}
	return nil, protocolErrorf("unhandled type kind for signature %q", t.String())
}

func readPrimitive(dec *fragments.Decoder, code Code) (any, error) {
	switch code {
	case TypeByte:
		return dec.Uint8()
	case TypeBoolean:
		u, err := dec.Uint32()
		if err != nil {
			return nil, err
		}
		switch u {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return nil, protocolErrorf("invalid boolean wire value %d, must be 0 or 1", u)
		}
	case TypeInt16:
		u, err := dec.Uint16()
		if err != nil {
			return nil, err
		}
		return int16(u), nil
	case TypeUint16:
		return dec.Uint16()
	case TypeInt32:
		u, err := dec.Uint32()
		if err != nil {
			return nil, err
		}
		return int32(u), nil
	case TypeUint32:
		return dec.Uint32()
	case TypeUnixFD:
		return dec.Uint32()
	case TypeInt64:
		u, err := dec.Uint64()
		if err != nil {
			return nil, err
		}
		return int64(u), nil
	case TypeUint64:
		return dec.Uint64()
	case TypeDouble:
		u, err := dec.Uint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(u), nil
	case TypeString, TypeObjectPath:
		s, err := dec.String()
		if err != nil {
			return nil, err
		}
		if !utf8.ValidString(s) {
			return nil, protocolErrorf("invalid UTF-8 in DBus string %q", s)
		}
		if code == TypeObjectPath {
			if StrictSyntax {
				if err := ObjectPath(s).Validate(); err != nil {
					return nil, err
				}
			}
			return ObjectPath(s), nil
		}
		return s, nil
	case TypeSignature:
		s, err := dec.SmallString()
		if err != nil {
			return nil, err
		}
		if StrictSyntax {
			if err := Signature(s).Validate(); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
	return nil, protocolErrorf("unknown primitive type code %q", string(code))
}

func readVariant(dec *fragments.Decoder) (any, error) {
	sigText, err := dec.SmallString()
	if err != nil {
		return nil, err
	}
	sig, err := ParseOne(sigText)
	if err != nil {
		return nil, protocolErrorf("invalid variant signature %q: %v", sigText, err)
	}
	value, err := readValue(dec, sig)
	if err != nil {
		return nil, err
	}
	return Variant{Sig: sig, Value: value}, nil
}

func readArray(dec *fragments.Decoder, t *Type) (any, error) {
	elem := t.Elem

	if elem.Kind == KindDictEntry {
		var dict Dict
		seen := mapset.New[string]()
		_, err := dec.Array(elem.Alignment(), func(int) error {
			return dec.Struct(func() error {
				k, err := readValue(dec, elem.Key)
				if err != nil {
					return err
				}
				v, err := readValue(dec, elem.Value)
				if err != nil {
					return err
				}
				keyStr := fmtKey(k)
				if seen.Has(keyStr) {
					return protocolErrorf("duplicate dict key %v", k)
				}
				seen.Add(keyStr)
				dict = append(dict, DictEntry{Key: k, Value: v})
				return nil
			})
		})
		if err != nil {
			return nil, wrapOverrun(err)
		}
		if dict == nil {
			dict = Dict{}
		}
		return dict, nil
	}

	if elem.Kind == KindPrimitive && elem.Code == TypeByte {
		var bs []byte
		_, err := dec.Array(1, func(int) error {
			b, err := dec.Uint8()
			if err != nil {
				return err
			}
			bs = append(bs, b)
			return nil
		})
		if err != nil {
			return nil, wrapOverrun(err)
		}
		if bs == nil {
			bs = []byte{}
		}
		return bs, nil
	}

	var items []any
	_, err := dec.Array(elem.Alignment(), func(int) error {
		v, err := readValue(dec, elem)
		if err != nil {
			return err
		}
		items = append(items, v)
		return nil
	})
	if err != nil {
		return nil, wrapOverrun(err)
	}
	if items == nil {
		items = []any{}
	}
	return items, nil
}

func readStruct(dec *fragments.Decoder, t *Type) (any, error) {
	fields := make(Struct, len(t.Fields))
	err := dec.Struct(func() error {
		for i, f := range t.Fields {
			v, err := readValue(dec, f)
			if err != nil {
				return err
			}
			fields[i] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// wrapOverrun turns the bare io errors that [fragments.Decoder.Array]
// uses to signal an array body that over- or under-runs its declared
// length into a [ProtocolError], so callers see a consistent error
// taxonomy regardless of where the mismatch was detected.
func wrapOverrun(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return protocolErrorf("array overran or underran its declared length: %v", err)
	}
	return err
}

func fmtKey(k any) string {
	if s, ok := asString(k); ok {
		return s
	}
	return fmt.Sprint(k)
}
