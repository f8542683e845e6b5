package dbus

import "fmt"

// Variant is a self-describing DBus value: one whose wire encoding
// carries its own type signature ahead of the value, so a decoder
// that doesn't know the concrete type in advance can still read it.
//
// Sig must describe Value's shape; use [ParseOne] to build one, or
// leave it nil when encoding through [Marshal], which infers it from
// Value's Go type.
type Variant struct {
	Sig   *Type
	Value any
}

// DictEntry is one key/value pair decoded from a DBus dict ('a{kv}').
type DictEntry struct {
	Key   any
	Value any
}

// Dict is the dynamic representation of a DBus dict. Unlike a Go map,
// a Dict preserves wire order and is able to represent duplicate keys
// (though [Reader] rejects duplicates on decode, matching DBus's own
// rule that dict keys be unique).
type Dict []DictEntry

// Get returns the value associated with key, using fmt.Sprint
// equality, and whether it was found.
func (d Dict) Get(key any) (any, bool) {
	ks := fmt.Sprint(key)
	for _, e := range d {
		if fmt.Sprint(e.Key) == ks {
			return e.Value, true
		}
	}
	return nil, false
}

// Struct is the dynamic representation of a DBus struct: its fields,
// in declaration order.
type Struct []any
