package dbus

import (
	"fmt"
)

// typeCache memoizes ParseOne results, keyed by signature text. The
// descriptor tree is read-only once built, so sharing it across
// callers is safe.
var typeCache cache[string, *Type]

// ParseOne parses sig as a single complete DBus type signature, such
// as "a{sv}" or "(iii)". It returns an error if sig is empty,
// malformed, or describes more than one type.
func ParseOne(sig string) (*Type, error) {
	if cached, ok := typeCache.Get(sig); ok {
		return cached, nil
	}
	if sig == "" {
		return nil, &SignatureError{Signature: sig, Pos: 0, Reason: "empty signature"}
	}
	p := &sigParser{s: sig}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if p.pos != len(sig) {
		return nil, &SignatureError{
			Signature: sig,
			Pos:       p.pos,
			Reason:    fmt.Sprintf("unexpected trailing characters '%s'", sig[p.pos:]),
		}
	}
	typeCache.Put(sig, t)
	return t, nil
}

// ParseMany parses sig as a concatenation of zero or more complete
// DBus type signatures, such as the signature of a message body. An
// empty string parses to a nil, non-error slice.
func ParseMany(sig string) ([]*Type, error) {
	if sig == "" {
		return nil, nil
	}
	p := &sigParser{s: sig}
	var types []*Type
	for p.pos < len(sig) {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// sigParser is a recursive-descent cursor over a signature string.
type sigParser struct {
	s   string
	pos int
}

func (p *sigParser) peek() (byte, bool) {
	if p.pos >= len(p.s) {
		return 0, false
	}
	return p.s[p.pos], true
}

func (p *sigParser) next() (byte, bool) {
	c, ok := p.peek()
	if ok {
		p.pos++
	}
	return c, ok
}

func (p *sigParser) errAt(pos int, reason string) error {
	return &SignatureError{Signature: p.s, Pos: pos, Reason: reason}
}

func (p *sigParser) parseType() (*Type, error) {
	startPos := p.pos
	c, ok := p.next()
	if !ok {
		return nil, p.errAt(startPos, "empty signature")
	}
	switch Code(c) {
	case TypeByte, TypeBoolean, TypeInt16, TypeUint16, TypeInt32, TypeUint32,
		TypeInt64, TypeUint64, TypeDouble, TypeUnixFD,
		TypeString, TypeObjectPath, TypeSignature:
		return &Type{Kind: KindPrimitive, Code: Code(c)}, nil
	case 'v':
		return &Type{Kind: KindVariant}, nil
	case 'a':
		return p.parseArray()
	case '(':
		return p.parseStruct()
	case '{':
		return nil, p.errAt(startPos, "unknown type '{' (did you mean 'a{'?)")
	default:
		return nil, p.errAt(startPos, fmt.Sprintf("unknown type '%c'", c))
	}
}

func (p *sigParser) parseArray() (*Type, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errAt(p.pos, "reached end of input while seeking array element type")
	}
	if c == '{' {
		p.pos++
		entry, err := p.parseDict()
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindArray, Elem: entry}, nil
	}
	elem, err := p.parseType()
	if err != nil {
		return nil, err
	}
	return &Type{Kind: KindArray, Elem: elem}, nil
}

func (p *sigParser) parseDict() (*Type, error) {
	start := p.pos - 1 // position of the '{'
	var inner []*Type
	for {
		c, ok := p.peek()
		if !ok {
			return nil, p.errAt(p.pos, "reached end of input while seeking '}'")
		}
		if c == '}' {
			p.pos++
			break
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		inner = append(inner, t)
	}
	if len(inner) != 2 {
		return nil, p.errAt(start, fmt.Sprintf("expected 2 signatures in dictionary, got %d", len(inner)))
	}
	key, val := inner[0], inner[1]
	if !key.IsBasic() {
		return nil, p.errAt(start, fmt.Sprintf("dict entry key must be a basic type, got '%s'", key.String()))
	}
	return &Type{Kind: KindDictEntry, Key: key, Value: val}, nil
}

func (p *sigParser) parseStruct() (*Type, error) {
	start := p.pos - 1 // position of the '('
	var fields []*Type
	for {
		c, ok := p.peek()
		if !ok {
			return nil, p.errAt(p.pos, "reached end of input while seeking ')'")
		}
		if c == ')' {
			p.pos++
			break
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fields = append(fields, t)
	}
	if len(fields) == 0 {
		return nil, p.errAt(start, "struct must contain at least one field")
	}
	return &Type{Kind: KindStruct, Fields: fields}, nil
}
