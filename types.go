package dbus

import "strings"

// Code is a single DBus type signature character.
type Code byte

// The primitive DBus type codes. Container codes ('a', '(', ')',
// '{', '}') are handled by the parser and never appear as a Code on
// a [Type] of [KindPrimitive].
const (
	TypeByte       Code = 'y'
	TypeBoolean    Code = 'b'
	TypeInt16      Code = 'n'
	TypeUint16     Code = 'q'
	TypeInt32      Code = 'i'
	TypeUint32     Code = 'u'
	TypeInt64      Code = 'x'
	TypeUint64     Code = 't'
	TypeDouble     Code = 'd'
	TypeUnixFD     Code = 'h'
	TypeString     Code = 's'
	TypeObjectPath Code = 'o'
	TypeSignature  Code = 'g'
)

// fixedSize maps a fixed-size primitive type code to its wire size in
// bytes. A fixed type's alignment equals its size.
var fixedSize = map[Code]int{
	TypeByte:    1,
	TypeBoolean: 4,
	TypeInt16:   2,
	TypeUint16:  2,
	TypeInt32:   4,
	TypeUint32:  4,
	TypeInt64:   8,
	TypeUint64:  8,
	TypeDouble:  8,
	TypeUnixFD:  4,
}

// IsFixed reports whether code denotes a fixed-size primitive type:
// one whose wire size is known without reading any data.
func IsFixed(code Code) bool {
	_, ok := fixedSize[code]
	return ok
}

// IsStringLike reports whether code denotes a DBus type whose wire
// representation is a length-prefixed, NUL-terminated byte sequence:
// strings, object paths, and signatures.
func IsStringLike(code Code) bool {
	switch code {
	case TypeString, TypeObjectPath, TypeSignature:
		return true
	}
	return false
}

// isKnownPrimitive reports whether code is one of the primitive type
// codes understood by this package.
func isKnownPrimitive(code Code) bool {
	return IsFixed(code) || IsStringLike(code)
}

// Kind distinguishes the shape of a parsed [Type].
type Kind int

const (
	// KindPrimitive is a fixed-size or string-like basic type.
	KindPrimitive Kind = iota
	// KindVariant is the self-describing 'v' type.
	KindVariant
	// KindArray is 'a' followed by an element type.
	KindArray
	// KindStruct is a parenthesized sequence of field types.
	KindStruct
	// KindDictEntry is a '{key value}' pair. It only ever appears as
	// the element type of a [KindArray] Type (i.e. as the {KV} in
	// "a{KV}"); a bare dict-entry is not a valid standalone type.
	KindDictEntry
)

// Type is a parsed DBus type signature: a single type, which may
// recursively describe containers of other Types.
type Type struct {
	Kind Kind

	// Code is valid when Kind == KindPrimitive.
	Code Code
	// Elem is valid when Kind == KindArray.
	Elem *Type
	// Fields is valid when Kind == KindStruct.
	Fields []*Type
	// Key and Value are valid when Kind == KindDictEntry.
	Key, Value *Type

	sig string // memoized String()
}

// String returns the DBus signature text this Type was parsed from
// (or is equivalent to).
func (t *Type) String() string {
	if t.sig == "" {
		var b strings.Builder
		t.render(&b)
		t.sig = b.String()
	}
	return t.sig
}

func (t *Type) render(b *strings.Builder) {
	switch t.Kind {
	case KindPrimitive:
		b.WriteByte(byte(t.Code))
	case KindVariant:
		b.WriteByte('v')
	case KindArray:
		b.WriteByte('a')
		t.Elem.render(b)
	case KindStruct:
		b.WriteByte('(')
		for _, f := range t.Fields {
			f.render(b)
		}
		b.WriteByte(')')
	case KindDictEntry:
		b.WriteByte('{')
		t.Key.render(b)
		t.Value.render(b)
		b.WriteByte('}')
	}
}

// Alignment returns the wire alignment, in bytes, of values of this
// Type.
func (t *Type) Alignment() int {
	switch t.Kind {
	case KindPrimitive:
		if a, ok := fixedSize[t.Code]; ok {
			return a
		}
		if t.Code == TypeSignature {
			return 1
		}
		return 4 // string, object path
	case KindVariant:
		return 1
	case KindArray:
		return 4
	case KindStruct, KindDictEntry:
		return 8
	}
	return 1
}

// IsFixed reports whether t is a fixed-size primitive type.
func (t *Type) IsFixed() bool {
	return t.Kind == KindPrimitive && IsFixed(t.Code)
}

// IsBasic reports whether t is a basic type: a fixed-size or
// string-like primitive. Only basic types may be used as a dict-entry
// key.
func (t *Type) IsBasic() bool {
	return t.Kind == KindPrimitive
}
