package dbus

import "strings"

// ObjectPath is a DBus object path: a '/'-separated sequence of
// ASCII identifiers, wire-encoded as the 'o' type.
type ObjectPath string

// Signature is DBus signature text used as a value (the 'g' wire
// type), as opposed to [Type], which is a signature already parsed
// into a descriptor tree.
type Signature string

// StrictSyntax, when true, makes encoding and decoding check object
// paths and signatures with [ObjectPath.Validate] and
// [Signature.Validate], rejecting syntactically invalid values instead
// of passing them through unexamined. It is off by default: most
// callers only round-trip paths and signatures they didn't invent
// themselves, and paying for validation on every write is wasted
// work for them.
var StrictSyntax = false

// Validate reports whether p is a syntactically valid DBus object
// path. It is only consulted by encoders and decoders when
// [StrictSyntax] is true.
func (p ObjectPath) Validate() error {
	s := string(p)
	if s == "/" {
		return nil
	}
	if !strings.HasPrefix(s, "/") {
		return protocolErrorf("object path %q must start with '/'", s)
	}
	if strings.HasSuffix(s, "/") {
		return protocolErrorf("object path %q must not end with '/'", s)
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return protocolErrorf("object path %q contains an empty element", s)
		}
		for _, c := range elem {
			if !isPathElementChar(c) {
				return protocolErrorf("object path %q contains invalid character %q", s, c)
			}
		}
	}
	return nil
}

func isPathElementChar(c rune) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// Validate reports whether s is syntactically valid DBus signature
// text. It is only consulted by encoders and decoders when
// [StrictSyntax] is true.
func (s Signature) Validate() error {
	if len(s) > 255 {
		return protocolErrorf("signature %q exceeds 255 bytes", string(s))
	}
	_, err := ParseMany(string(s))
	return err
}
